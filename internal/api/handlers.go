package api

import (
	"net/http"

	apperrors "advisory-portal/internal/common/errors"
	"advisory-portal/internal/common/logger"
	"advisory-portal/internal/questionnaire/answers"
	"advisory-portal/internal/questionnaire/persistence"
	"advisory-portal/internal/questionnaire/progress"
	"advisory-portal/internal/questionnaire/steps"
	"advisory-portal/internal/questionnaire/wizard"

	"github.com/gin-gonic/gin"
)

// ==========================
// Request / response bodies
// ==========================

type valueRequest struct {
	Value interface{} `json:"value"`
}

type detailRequest struct {
	Value string `json:"value"`
}

type addGoalRequest struct {
	Name     string                `json:"name" binding:"required"`
	Interest answers.InterestLevel `json:"interest"`
}

type updateGoalRequest struct {
	Name     *string                `json:"name"`
	Interest *answers.InterestLevel `json:"interest"`
}

type checkpointRequest struct {
	Completed bool `json:"completed"`
}

// StepView is what every navigation endpoint returns.
type StepView struct {
	Current  steps.CurrentStep `json:"current"`
	Progress progress.Progress `json:"progress"`
}

type StartView struct {
	StepView
	Resumed bool                 `json:"resumed"`
	Source  persistence.Source   `json:"source,omitempty"`
	Notices []persistence.Notice `json:"notices,omitempty"`
}

type CheckpointView struct {
	Result *persistence.CheckpointResult `json:"result"`
	Events []wizard.Event                `json:"events,omitempty"`
}

// ==========================
// Handler
// ==========================

type WizardHandler struct {
	registry *wizard.Registry
	errs     *apperrors.ErrorHandler
	log      logger.Logger
}

func NewWizardHandler(registry *wizard.Registry, errs *apperrors.ErrorHandler, log logger.Logger) *WizardHandler {
	return &WizardHandler{registry: registry, errs: errs, log: log}
}

func (h *WizardHandler) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, apperrors.APIResponse{Success: true, Data: data})
}

// engine looks up the caller's session and attaches the identity when the
// client signed in after starting anonymously. A session already owned by
// one identity is never handed to another.
func (h *WizardHandler) engine(c *gin.Context) (*wizard.Engine, bool) {
	e, err := h.registry.Get(c.GetHeader(HeaderSessionID))
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return nil, false
	}
	if id := identityFrom(c); id != "" && e.Identity() == "" {
		e.SetIdentity(id)
	}
	return e, true
}

func stepView(e *wizard.Engine) StepView {
	return StepView{Current: e.CurrentStep(), Progress: e.Progress()}
}

func (h *WizardHandler) StartSession(c *gin.Context) {
	res, err := h.registry.Start(c.Request.Context(), c.GetHeader(HeaderSessionID), identityFrom(c))
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}

	view := StartView{StepView: stepView(res.Engine)}
	status := http.StatusOK
	if res.Load != nil {
		view.Source = res.Load.Source
		view.Notices = res.Load.Notices
		view.Resumed = res.Load.Snapshot != nil
		status = http.StatusCreated
		h.log.Info("Wizard session started", map[string]interface{}{
			"session_id": res.Engine.SessionID(),
			"source":     res.Load.Source,
			"signed_in":  res.Engine.Identity() != "",
		})
	}
	h.ok(c, status, view)
}

// EndSession abandons the session. With ?discard=true the answers saved on
// this device are deleted as well.
func (h *WizardHandler) EndSession(c *gin.Context) {
	sessionID := c.GetHeader(HeaderSessionID)
	var err error
	if c.Query("discard") == "true" {
		err = h.registry.Discard(c.Request.Context(), sessionID)
	} else {
		err = h.registry.End(sessionID)
	}
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) Resume(c *gin.Context) {
	info, err := h.registry.Resume(c.Request.Context(), c.GetHeader(HeaderSessionID), identityFrom(c))
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	h.ok(c, http.StatusOK, info)
}

func (h *WizardHandler) CurrentStep(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	h.ok(c, http.StatusOK, stepView(e))
}

func (h *WizardHandler) Next(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	res, err := e.Next(c.Request.Context())
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	h.ok(c, http.StatusOK, res)
}

func (h *WizardHandler) Previous(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	res, err := e.Previous()
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	h.ok(c, http.StatusOK, res)
}

func (h *WizardHandler) Answers(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	h.ok(c, http.StatusOK, e.Snapshot())
}

func (h *WizardHandler) UpdateAnswer(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	value, ok := h.bindValue(c)
	if !ok {
		return
	}
	if err := e.UpdateAnswer(c.Param("key"), value); err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) UpdateNestedAnswer(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	value, ok := h.bindValue(c)
	if !ok {
		return
	}
	if err := e.UpdateNestedAnswer(c.Param("key"), c.Param("subkey"), value); err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) bindValue(c *gin.Context) (interface{}, bool) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError(err.Error()))
		return nil, false
	}
	if req.Value == nil {
		h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError("value is required"))
		return nil, false
	}
	return req.Value, true
}

func (h *WizardHandler) QualifiedGoals(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	h.ok(c, http.StatusOK, e.QualifiedGoals())
}

func (h *WizardHandler) AddGoal(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	var req addGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	g, err := e.AddCustomGoal(req.Name, req.Interest)
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	h.ok(c, http.StatusCreated, g)
}

func (h *WizardHandler) UpdateGoal(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	var req updateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if req.Name == nil && req.Interest == nil {
		h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError("name or interest is required"))
		return
	}

	goalID := c.Param("id")
	if req.Interest != nil {
		if err := e.SetGoalInterest(goalID, *req.Interest); err != nil {
			h.errs.HandleHTTPError(c, err)
			return
		}
	}
	if req.Name != nil {
		if err := e.RenameGoal(goalID, *req.Name); err != nil {
			h.errs.HandleHTTPError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) RemoveGoal(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	if err := e.RemoveGoal(c.Param("id")); err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) UpdateGoalDetail(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	var req detailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if err := e.UpdateGoalDetail(c.Param("id"), c.Param("field"), req.Value); err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) Progress(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	if c.Query("mode") == string(progress.ModeCoverage) {
		h.ok(c, http.StatusOK, e.Coverage())
		return
	}
	h.ok(c, http.StatusOK, e.Progress())
}

func (h *WizardHandler) Checkpoint(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	var req checkpointRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.errs.HandleHTTPError(c, apperrors.NewInvalidRequestError(err.Error()))
			return
		}
	}

	res, events, err := e.Checkpoint(c.Request.Context(), req.Completed)
	if err != nil {
		h.errs.HandleHTTPError(c, err)
		return
	}
	h.ok(c, http.StatusOK, CheckpointView{Result: res, Events: events})
}
