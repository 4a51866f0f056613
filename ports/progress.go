package ports

// ProgressEvent is emitted once per completed unit of work in a long per-node loop.
type ProgressEvent struct {
	Stage string
	Node  string
	Done  int
	Total int
	Err   error
}

// ProgressObserver receives progress events. Implementations must be safe for
// concurrent use; a nil observer is allowed everywhere one is accepted.
type ProgressObserver func(ProgressEvent)

// Notify calls o when it is set.
func (o ProgressObserver) Notify(ev ProgressEvent) {
	if o != nil {
		o(ev)
	}
}
