package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes the exam use cases over REST.
type Handler struct {
	services *app.Services
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

func NewHandler(services *app.Services, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{services: services, validate: validator.New(), log: log, now: time.Now}
}

type createDeploymentRequest struct {
	CohortID        string    `json:"cohort_id" validate:"required"`
	ExamID          string    `json:"exam_id" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,min=30"`
	OpenAt          time.Time `json:"open_at" validate:"required"`
	CloseAt         time.Time `json:"close_at" validate:"required,gtfield=OpenAt"`
}

type patchDeploymentRequest struct {
	OpenAt          *time.Time `json:"open_at"`
	CloseAt         *time.Time `json:"close_at"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,min=30"`
}

type activationRequest struct {
	Activation domain.Activation `json:"activation" validate:"required,oneof=activated deactivated"`
}

type accessRequest struct {
	Code string `json:"code" validate:"required"`
}

type saveAnswersRequest struct {
	Answers map[string]json.RawMessage `json:"answers" validate:"required"`
}

type submitRequest struct {
	StartedAt     *time.Time                 `json:"started_at"`
	CheatingCount int                        `json:"cheating_count" validate:"min=0"`
	Answers       map[string]json.RawMessage `json:"answers"`
}

type questionRequest struct {
	Type        domain.QuestionType `json:"type" validate:"required"`
	Prompt      string              `json:"prompt" validate:"required"`
	Supplement  string              `json:"supplement"`
	Options     []string            `json:"options" validate:"omitempty,dive,required"`
	BlankCount  int                 `json:"blank_count" validate:"min=0"`
	Answer      json.RawMessage     `json:"answer" validate:"required"`
	Point       int                 `json:"point" validate:"min=1,max=10"`
	Explanation string              `json:"explanation"`
}

func (q questionRequest) content() (domain.QuestionContent, error) {
	if !q.Type.Valid() {
		return domain.QuestionContent{}, domain.Validation("unknown question type %q", q.Type)
	}
	answer, err := domain.ParseAnswer(q.Type, q.Answer)
	if err != nil {
		return domain.QuestionContent{}, domain.Validation("answer: %v", err)
	}
	return domain.QuestionContent{
		Type:        q.Type,
		Prompt:      q.Prompt,
		Supplement:  q.Supplement,
		Options:     q.Options,
		BlankCount:  q.BlankCount,
		Answer:      answer,
		Point:       q.Point,
		Explanation: q.Explanation,
	}, nil
}

type deploymentResponse struct {
	domain.Deployment
	State domain.State `json:"state"`
}

func (h *Handler) deploymentView(d domain.Deployment) deploymentResponse {
	return deploymentResponse{Deployment: d, State: d.State(h.now())}
}

func (h *Handler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.services.Deployments.Create(r.Context(), app.CreateDeploymentInput{
		CohortID:        req.CohortID,
		ExamID:          req.ExamID,
		DurationMinutes: req.DurationMinutes,
		OpenAt:          req.OpenAt,
		CloseAt:         req.CloseAt,
	})
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusCreated, h.deploymentView(d))
}

func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.services.Deployments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, h.deploymentView(d))
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	s, err := h.services.Deployments.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, s)
}

func (h *Handler) PatchDeployment(w http.ResponseWriter, r *http.Request) {
	var req patchDeploymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.services.Deployments.Patch(r.Context(), chi.URLParam(r, "id"), app.PatchDeploymentInput{
		OpenAt:          req.OpenAt,
		CloseAt:         req.CloseAt,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, h.deploymentView(d))
}

func (h *Handler) SetActivation(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.services.Deployments.SetActivation(r.Context(), chi.URLParam(r, "id"), req.Activation)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, h.deploymentView(d))
}

func (h *Handler) DeleteDeployment(w http.ResponseWriter, r *http.Request) {
	if err := h.services.Deployments.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	list, err := h.services.Submissions.ListSubmissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, list)
}

func (h *Handler) VerifyAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.services.Access.Verify(r.Context(), chi.URLParam(r, "id"), req.Code); err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]bool{"granted": true})
}

func (h *Handler) FetchQuestions(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	view, err := h.services.Attempts.FetchQuestions(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, view)
}

func (h *Handler) SaveAnswers(w http.ResponseWriter, r *http.Request) {
	var req saveAnswersRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	answered, err := h.services.Attempts.SaveAnswers(r.Context(), chi.URLParam(r, "id"), p.UserID, req.Answers)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]int{"answered": answered})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, _ := PrincipalFrom(r.Context())
	in := app.SubmitInput{
		DeploymentID:  chi.URLParam(r, "id"),
		SubmitterID:   p.UserID,
		CheatingCount: req.CheatingCount,
		Answers:       req.Answers,
	}
	if req.StartedAt != nil {
		in.StartedAt = *req.StartedAt
	}
	sub, err := h.services.Submissions.Submit(r.Context(), in)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusCreated, sub)
}

func (h *Handler) RecordCheating(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	outcome, err := h.services.Cheating.RecordEvent(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, outcome)
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	view, err := h.services.Results.GetResult(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, view)
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !h.decode(w, r, &req) {
		return
	}
	content, err := req.content()
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	q, err := h.services.Questions.AddQuestion(r.Context(), chi.URLParam(r, "examID"), content)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusCreated, q)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	list, err := h.services.Questions.ListQuestions(r.Context(), chi.URLParam(r, "examID"))
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, list)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.services.Questions.GetQuestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, q)
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !h.decode(w, r, &req) {
		return
	}
	content, err := req.content()
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	q, err := h.services.Questions.UpdateQuestion(r.Context(), chi.URLParam(r, "id"), content)
	if err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	writeOK(w, r, http.StatusOK, q)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.services.Questions.DeleteQuestion(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", "invalid JSON body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
