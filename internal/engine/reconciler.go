package engine

import (
	"context"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/learned"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
)

// TrainingData is what every strategy fits on. Validation may be nil.
type TrainingData struct {
	Index      *hierarchy.Index
	Train      *forecast.Frame
	Validation *forecast.Frame
	Actuals    *forecast.Actuals
}

// Reconciler is the common surface of every strategy.
type Reconciler interface {
	Name() string
	Fit(ctx context.Context, data TrainingData) error
	Predict(ctx context.Context, base *forecast.Frame) (*forecast.Frame, error)
	Score(pred *forecast.Frame, actuals *forecast.Actuals) (scoring.Summary, error)
}

// NewReconciler builds the reconciler for s.
func NewReconciler(s Strategy, settings Settings) (Reconciler, error) {
	switch s.Kind {
	case KindLearned:
		return &learnedReconciler{opts: settings.Learned, scorer: scoring.NewEngine(settings.Scoring)}, nil
	case KindBottomUp, KindTopDown, KindMinTrace:
		if err := s.Method.Validate(); err != nil {
			return nil, err
		}
		return &statisticalReconciler{
			method: s.Method,
			opts:   settings.Reconcile,
			scorer: scoring.NewEngine(settings.Scoring),
		}, nil
	}
	return nil, errors.UnsupportedReconciler(string(s.Kind))
}

type statisticalReconciler struct {
	method reconcile.Method
	opts   reconcile.Options
	scorer *scoring.Engine
	fitted *reconcile.Fitted
}

func (r *statisticalReconciler) Name() string {
	if r.fitted != nil {
		return r.fitted.Method().String()
	}
	return r.method.String()
}

// Fit refits on train followed by validation.
func (r *statisticalReconciler) Fit(ctx context.Context, data TrainingData) error {
	rec, err := reconcile.New(data.Index, r.method, r.opts)
	if err != nil {
		return err
	}
	window, err := joinWindows(data.Train, data.Validation)
	if err != nil {
		return err
	}
	r.fitted, err = rec.Fit(ctx, window, data.Actuals)
	return err
}

func (r *statisticalReconciler) Predict(ctx context.Context, base *forecast.Frame) (*forecast.Frame, error) {
	if r.fitted == nil {
		return nil, errors.WithCode(errors.CodeInternalError, core.ErrNotFitted)
	}
	return r.fitted.Reconcile(ctx, base)
}

func (r *statisticalReconciler) Score(pred *forecast.Frame, actuals *forecast.Actuals) (scoring.Summary, error) {
	_, summary, err := r.scorer.Score(pred, actuals)
	return summary, err
}

type learnedReconciler struct {
	opts   learned.Options
	scorer *scoring.Engine
	model  *learned.Model
}

func (r *learnedReconciler) Name() string { return string(KindLearned) }

func (r *learnedReconciler) Fit(ctx context.Context, data TrainingData) error {
	model, err := learned.Fit(ctx, learned.TrainingData{
		Index:      data.Index,
		Train:      data.Train,
		Validation: data.Validation,
		Actuals:    data.Actuals,
	}, r.opts)
	if err != nil {
		return err
	}
	r.model = model
	return nil
}

func (r *learnedReconciler) Predict(ctx context.Context, base *forecast.Frame) (*forecast.Frame, error) {
	if r.model == nil {
		return nil, errors.WithCode(errors.CodeInternalError, core.ErrNotFitted)
	}
	return r.model.Predict(ctx, base)
}

func (r *learnedReconciler) Score(pred *forecast.Frame, actuals *forecast.Actuals) (scoring.Summary, error) {
	_, summary, err := r.scorer.Score(pred, actuals)
	return summary, err
}

func joinWindows(train, validation *forecast.Frame) (*forecast.Frame, error) {
	switch {
	case train == nil:
		return validation, nil
	case validation == nil:
		return train, nil
	}
	joined, err := forecast.Concat(train, validation)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return joined, nil
}
