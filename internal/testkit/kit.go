package testkit

import (
	"context"
	"sort"
	"sync"
	"time"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/ports"
)

// InMemoryRepository implements ports.ForecastRepository with maps
type InMemoryRepository struct {
	predictions map[core.RunID]map[ports.Window][]forecast.Prediction
	outputs     map[core.RunID][]forecast.OutputRow
	choices     []ports.ChoiceRecord
	mu          sync.RWMutex
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		predictions: make(map[core.RunID]map[ports.Window][]forecast.Prediction),
		outputs:     make(map[core.RunID][]forecast.OutputRow),
	}
}

func (s *InMemoryRepository) SavePredictions(ctx context.Context, runID core.RunID, window ports.Window, rows []forecast.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.predictions[runID] == nil {
		s.predictions[runID] = make(map[ports.Window][]forecast.Prediction)
	}
	s.predictions[runID][window] = append([]forecast.Prediction(nil), rows...)
	return nil
}

func (s *InMemoryRepository) LoadPredictions(ctx context.Context, runID core.RunID, window ports.Window) ([]forecast.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.predictions[runID][window]
	if !ok {
		return nil, core.ErrNotFound
	}
	return append([]forecast.Prediction(nil), rows...), nil
}

func (s *InMemoryRepository) SaveOutput(ctx context.Context, runID core.RunID, rows []forecast.OutputRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outputs[runID] = append([]forecast.OutputRow(nil), rows...)
	return nil
}

func (s *InMemoryRepository) LoadOutput(ctx context.Context, runID core.RunID) ([]forecast.OutputRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.outputs[runID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return append([]forecast.OutputRow(nil), rows...), nil
}

func (s *InMemoryRepository) SaveChoice(ctx context.Context, choice ports.ChoiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if choice.CreatedAt.IsZero() {
		choice.CreatedAt = time.Now().UTC()
	}
	s.choices = append(s.choices, choice)
	return nil
}

func (s *InMemoryRepository) LatestChoice(ctx context.Context) (*ports.ChoiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.choices) == 0 {
		return nil, core.ErrNotFound
	}
	sorted := append([]ports.ChoiceRecord(nil), s.choices...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	latest := sorted[len(sorted)-1]
	return &latest, nil
}

// Runs lists every run with saved output.
func (s *InMemoryRepository) Runs() []core.RunID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]core.RunID, 0, len(s.outputs))
	for id := range s.outputs {
		runs = append(runs, id)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i] < runs[j] })
	return runs
}

// ScriptedForecaster is a ports.LeafForecaster returning a fixed level per
// node. Nodes listed in Fail return Err.
type ScriptedForecaster struct {
	Level map[string]float64
	Fail  map[string]bool
	Err   error
	calls sync.Map
}

func (f *ScriptedForecaster) Forecast(ctx context.Context, history ports.History, horizon []time.Time) ([]ports.RawForecast, error) {
	n, _ := f.calls.LoadOrStore(history.Node, new(int))
	*(n.(*int))++
	if f.Fail[history.Node] {
		return nil, f.Err
	}
	level := f.Level[history.Node]
	out := make([]ports.RawForecast, len(horizon))
	for k, ts := range horizon {
		out[k] = ports.RawForecast{
			DS:        ts,
			UniqueID:  history.Node,
			YHat:      level,
			YHatLower: level * 0.8,
			YHatUpper: level * 1.2,
		}
	}
	return out, nil
}

// Called reports whether node was forecast.
func (f *ScriptedForecaster) Called(node string) bool {
	_, ok := f.calls.Load(node)
	return ok
}
