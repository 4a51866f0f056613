package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gohts/domain/core"
	"gohts/internal/engine"
	"gohts/internal/errors"
	"gohts/internal/selector"
	"gohts/ports"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps application error codes onto HTTP statuses
func statusFor(err error) int {
	if stderrors.Is(err, core.ErrNotFound) {
		return http.StatusNotFound
	}
	switch errors.GetCode(err) {
	case errors.CodeConfigInvalid, errors.CodeUnsupportedReconciler, errors.CodeAmbiguousHierarchy, errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeTotalFailure, errors.CodeNodeFitFailed:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, errorResponse{Error: err.Error(), Code: errors.GetCode(err)})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "persistence": s.repo != nil})
}

// bind decodes the request body and assigns a run ID so clients can follow
// progress on /v1/runs/:id/events.
func (s *Server) bind(c *gin.Context) (engine.Inputs, bool) {
	var body engine.RowInputs
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, errors.WithCode(errors.CodeInvalidInput, err))
		return engine.Inputs{}, false
	}
	if body.RunID == "" {
		body.RunID = core.NewRunID()
	} else if _, err := core.ParseRunID(body.RunID.String()); err != nil {
		s.fail(c, errors.WithCode(errors.CodeInvalidInput, err))
		return engine.Inputs{}, false
	}
	in, err := body.Inputs()
	if err != nil {
		s.fail(c, err)
		return engine.Inputs{}, false
	}
	return in, true
}

func (s *Server) reconcile(c *gin.Context) {
	in, ok := s.bind(c)
	if !ok {
		return
	}
	settings := s.settings
	settings.Progress = s.hub.Observer(in.RunID)

	res, err := engine.NewPipeline(settings, s.repo).Run(c.Request.Context(), in)
	if err != nil {
		RecordRun("", err, 0, false)
		s.fail(c, err)
		return
	}
	RecordRun(res.Reconciler, nil, res.Score, res.Summary != nil)
	c.JSON(http.StatusOK, res)
}

func (s *Server) selectReconciler(c *gin.Context) {
	in, ok := s.bind(c)
	if !ok {
		return
	}
	if in.Validation == nil || in.Actuals == nil {
		s.fail(c, errors.InvalidInput("selection needs validation predictions and actuals"))
		return
	}
	sel, err := selector.New(selector.Options{
		Candidates: s.settings.Candidates,
		Decision:   s.settings.Decision,
		Scoring:    s.settings.Scoring,
		Reconcile:  s.settings.Reconcile,
		Workers:    s.settings.Workers,
		Progress:   s.hub.Observer(in.RunID),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	train := in.Train
	if train == nil {
		train = in.Validation
	}
	choice, err := sel.Select(c.Request.Context(), selector.Inputs{
		Index:             in.Index,
		Train:             train,
		TrainActuals:      in.Actuals,
		Validation:        in.Validation,
		ValidationActuals: in.Actuals,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	choice.RunID = in.RunID
	if s.repo != nil {
		payload, err := engine.MarshalChoice(choice)
		if err != nil {
			s.fail(c, err)
			return
		}
		if err := s.repo.SaveChoice(c.Request.Context(), ports.ChoiceRecord{
			RunID:     choice.RunID,
			Method:    choice.Method.String(),
			Score:     choice.Score,
			Payload:   payload,
			CreatedAt: choice.CreatedAt,
		}); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, choice)
}

func (s *Server) runOutput(c *gin.Context) {
	if s.repo == nil {
		s.fail(c, errors.NotFound("persistence"))
		return
	}
	runID, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		s.fail(c, errors.WithCode(errors.CodeInvalidInput, err))
		return
	}
	rows, err := s.repo.LoadOutput(c.Request.Context(), runID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "output": rows})
}

func (s *Server) latestChoice(c *gin.Context) {
	if s.repo == nil {
		s.fail(c, errors.NotFound("persistence"))
		return
	}
	rec, err := s.repo.LatestChoice(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	choice, err := engine.UnmarshalChoice(rec.Payload)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, choice)
}
