package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/domain"
)

// Handler serves the REST API.
type Handler struct {
	service *app.AssessmentService
	log     logrus.FieldLogger
}

func NewHandler(service *app.AssessmentService, log logrus.FieldLogger) *Handler {
	return &Handler{service: service, log: log}
}

type beginRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=pre post"`
}

type answerRequest struct {
	Option *int `json:"option" validate:"required,min=0"`
}

type proctoringRequest struct {
	TabSwitches  int `json:"tabSwitches" validate:"min=0"`
	CopyAttempts int `json:"copyAttempts" validate:"min=0"`
}

// timeExpired is reserved for the server's own countdown.
type submitRequest struct {
	Reason string `json:"reason" validate:"omitempty,oneof=manual maxTabSwitches tabSwitchTimeout maxCopyAttempts"`
}

type emailSentRequest struct {
	Sent *bool `json:"sent" validate:"required"`
}

type migrationRequest struct {
	Date string `json:"date" validate:"omitempty,len=8,numeric"`
}

// attemptView is the participant's view of a live attempt.
type attemptView struct {
	Key              string                  `json:"key"`
	Mode             domain.Mode             `json:"mode"`
	Questions        []domain.PublicQuestion `json:"questions"`
	Answers          []any                   `json:"answers"`
	StartedAt        time.Time               `json:"startedAt"`
	RemainingSeconds int                     `json:"remainingSeconds"`
	Completed        bool                    `json:"completed"`
	Resumed          bool                    `json:"resumed"`
}

func newAttemptView(a *app.Attempt, resumed bool) attemptView {
	rec := a.Record()
	return attemptView{
		Key:              rec.Key,
		Mode:             rec.Mode,
		Questions:        a.Questions(),
		Answers:          domain.EncodeAnswers(rec.Answers),
		StartedAt:        rec.StartedAt,
		RemainingSeconds: displaySeconds(a.Remaining()),
		Completed:        rec.Completed(),
		Resumed:          resumed,
	}
}

// displaySeconds rounds up so a started attempt shows its full duration and
// zero only appears once the deadline has passed.
func displaySeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

type resultView struct {
	Key             string              `json:"key"`
	Score           int                 `json:"score"`
	CorrectCount    int                 `json:"correctCount"`
	WrongCount      int                 `json:"wrongCount"`
	AnsweredCount   int                 `json:"answeredCount"`
	UnansweredCount int                 `json:"unansweredCount"`
	Reason          domain.SubmitReason `json:"autoSubmitReason,omitempty"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty"`
}

func newResultView(rec domain.SessionRecord) resultView {
	return resultView{
		Key:             rec.Key,
		Score:           rec.Score,
		CorrectCount:    rec.CorrectCount,
		WrongCount:      rec.WrongCount,
		AnsweredCount:   rec.AnsweredCount,
		UnansweredCount: rec.UnansweredCount,
		Reason:          rec.AutoSubmitReason,
		CompletedAt:     rec.CompletedAt,
	}
}

type beginResponse struct {
	Decision app.Decision `json:"decision"`
	Attempt  *attemptView `json:"attempt,omitempty"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, status, err.Error())
}

// Begin handles POST /api/attempts.
func (h *Handler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.service.Begin(r.Context(), participantFrom(r), domain.Mode(req.Mode))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out.Attempt == nil {
		writeJSON(w, http.StatusOK, beginResponse{Decision: out.Decision})
		return
	}
	view := newAttemptView(out.Attempt, out.Resumed)
	status := http.StatusOK
	if out.Decision.CanStart {
		status = http.StatusCreated
	}
	writeJSON(w, status, beginResponse{Decision: out.Decision, Attempt: &view})
}

// GetRecord handles GET /api/attempts/{key}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Record(r.Context(), participantFrom(r), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Answer handles PUT /api/attempts/{key}/answers/{index}.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	var req answerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.Answer(r.Context(), participantFrom(r), chi.URLParam(r, "key"), index, *req.Option); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Proctoring handles POST /api/attempts/{key}/proctoring.
func (h *Handler) Proctoring(w http.ResponseWriter, r *http.Request) {
	var req proctoringRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.Proctoring(r.Context(), participantFrom(r), chi.URLParam(r, "key"), req.TabSwitches, req.CopyAttempts); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handles POST /api/attempts/{key}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := domain.SubmitReason(req.Reason)
	if reason == "" {
		reason = domain.ReasonManual
	}
	_, rec, err := h.service.Submit(r.Context(), participantFrom(r), chi.URLParam(r, "key"), reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultView(rec))
}

// GetSettings handles GET /api/admin/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Settings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// PutSettings handles PUT /api/admin/settings.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.Settings
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Recompute handles GET /api/admin/attempts/{key}/recompute.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Recompute(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ResendEmail handles POST /api/admin/attempts/{key}/email.
func (h *Handler) ResendEmail(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.ResendEmail(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// MarkEmailSent handles PUT /api/admin/attempts/{key}/email-sent.
func (h *Handler) MarkEmailSent(w http.ResponseWriter, r *http.Request) {
	var req emailSentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.MarkEmailSent(r.Context(), chi.URLParam(r, "key"), *req.Sent); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRecord handles DELETE /api/admin/attempts/{key}.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRecord(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunMigration handles POST /api/admin/migrations/legacy.
func (h *Handler) RunMigration(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.service.RunMigration(r.Context(), domain.Date(req.Date))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
