package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
	"exam-deployment-service/internal/infra/memory"
	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testEnv struct {
	server   *httptest.Server
	services *app.Services
	clock    *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	store.PutExam(domain.Exam{ID: "exam-1", CourseID: "course-1", Title: "Weekly check"})
	store.PutCohort(domain.Cohort{ID: "cohort-1", CourseID: "course-1"})

	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	services := app.NewServices(store.Deps(memory.NewAttemptStore()), app.WithClock(clock.Now), app.WithLogger(log))

	ctx := context.Background()
	if _, err := services.Questions.AddQuestion(ctx, "exam-1", domain.QuestionContent{
		Type: domain.SingleChoice, Prompt: "2 + 2?", Options: []string{"3", "4"}, Answer: domain.ChoiceAnswer{Choice: "4"}, Point: 5,
	}); err != nil {
		t.Fatalf("seed question: %v", err)
	}

	server := httptest.NewServer(NewRouter(services, NewAuthenticator(testSecret), log))
	t.Cleanup(server.Close)
	return &testEnv{server: server, services: services, clock: clock}
}

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type apiResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *errorPayload   `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	var out apiResponse
	if res.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return res.StatusCode, out
}

func (e *testEnv) createDeployment(t *testing.T, admin string) domain.Deployment {
	t.Helper()
	openAt := e.clock.Now().Add(time.Hour)
	status, res := e.do(t, http.MethodPost, "/api/v1/deployments", admin, map[string]any{
		"cohort_id":        "cohort-1",
		"exam_id":          "exam-1",
		"duration_minutes": 45,
		"open_at":          openAt,
		"close_at":         openAt.Add(2 * time.Hour),
	})
	if status != http.StatusCreated {
		t.Fatalf("create deployment: %d %+v", status, res.Error)
	}
	var d domain.Deployment
	if err := json.Unmarshal(res.Data, &d); err != nil {
		t.Fatalf("decode deployment: %v", err)
	}
	return d
}

func TestRouterAuth(t *testing.T) {
	env := newTestEnv(t)

	if status, _ := env.do(t, http.MethodGet, "/healthz", "", nil); status != http.StatusOK {
		t.Fatalf("healthz: %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/submissions/x/result", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/submissions/x/result", "not-a-jwt", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", status)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"}).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/submissions/x/result", forged, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", status)
	}

	status, res := env.do(t, http.MethodPost, "/api/v1/deployments", token(t, "learner"), map[string]any{})
	if status != http.StatusForbidden || res.Error == nil || res.Error.Code != "forbidden" {
		t.Fatalf("expected 403 for learner, got %d %+v", status, res.Error)
	}
}

func TestAuthenticatorParsesRoleString(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "t1", "roles": "admin grader"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := NewAuthenticator(testSecret).Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.UserID != "t1" || !p.HasRole(app.RoleAdmin) || !p.HasRole("grader") {
		t.Fatalf("unexpected principal %+v", p)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "t1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := NewAuthenticator(testSecret).Parse(none); err == nil {
		t.Fatalf("expected unsigned token to be rejected")
	}
}

func TestRouterExamFlow(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "proctor", app.RoleAdmin)
	learner := token(t, "learner-1")
	d := env.createDeployment(t, admin)
	base := "/api/v1/deployments/" + d.ID

	status, res := env.do(t, http.MethodPost, base+"/access", learner, map[string]string{"code": d.AccessCode})
	if status != http.StatusLocked || res.Error.Code != "locked" {
		t.Fatalf("expected 423 before open, got %d %+v", status, res.Error)
	}

	env.clock.Set(d.OpenAt.Add(time.Minute))
	if status, _ := env.do(t, http.MethodPost, base+"/access", learner, map[string]string{"code": "NOPE"}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, base+"/access", learner, map[string]string{"code": d.AccessCode}); status != http.StatusOK {
		t.Fatalf("expected access, got %d", status)
	}

	status, res = env.do(t, http.MethodGet, base+"/questions", learner, nil)
	if status != http.StatusOK {
		t.Fatalf("fetch questions: %d %+v", status, res.Error)
	}
	var view domain.AttemptView
	if err := json.Unmarshal(res.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Questions) != 1 || bytes.Contains(res.Data, []byte(`"answer"`)) {
		t.Fatalf("unexpected questions payload %s", res.Data)
	}
	qid := view.Questions[0].QuestionID

	if status, _ := env.do(t, http.MethodPut, base+"/answers", learner, map[string]any{"answers": map[string]any{qid: "4"}}); status != http.StatusOK {
		t.Fatalf("save answers: %d", status)
	}
	if status, _ := env.do(t, http.MethodPost, base+"/submissions", learner, map[string]any{"bogus": true}); status != http.StatusBadRequest {
		t.Fatalf("expected unknown field to be rejected, got %d", status)
	}

	status, res = env.do(t, http.MethodPost, base+"/submissions", learner, map[string]any{})
	if status != http.StatusCreated {
		t.Fatalf("submit: %d %+v", status, res.Error)
	}
	var sub domain.Submission
	if err := json.Unmarshal(res.Data, &sub); err != nil {
		t.Fatalf("decode submission: %v", err)
	}
	if sub.Score != 5 || sub.Ordinal != 1 {
		t.Fatalf("unexpected submission %+v", sub)
	}

	startedAt := env.clock.Now()
	if status, _ := env.do(t, http.MethodPost, base+"/submissions", learner, map[string]any{"started_at": startedAt}); status != http.StatusCreated {
		t.Fatalf("second submit: %d", status)
	}
	status, res = env.do(t, http.MethodPost, base+"/submissions", learner, map[string]any{"started_at": startedAt})
	if status != http.StatusConflict || res.Error.Code != "conflict" {
		t.Fatalf("expected 409 on third submit, got %d %+v", status, res.Error)
	}

	if status, _ := env.do(t, http.MethodGet, "/api/v1/submissions/"+sub.ID+"/result", learner, nil); status != http.StatusOK {
		t.Fatalf("own result: %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/submissions/"+sub.ID+"/result", token(t, "learner-2"), nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for another learner, got %d", status)
	}

	status, res = env.do(t, http.MethodGet, base+"/submissions", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("list submissions: %d", status)
	}
	var summaries []domain.SubmissionSummary
	if err := json.Unmarshal(res.Data, &summaries); err != nil || len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %s (%v)", res.Data, err)
	}

	env.clock.Set(d.CloseAt)
	status, res = env.do(t, http.MethodPost, base+"/access", learner, map[string]string{"code": d.AccessCode})
	if status != http.StatusGone || res.Error.Code != "gone" {
		t.Fatalf("expected 410 after close, got %d %+v", status, res.Error)
	}
	if status, _ := env.do(t, http.MethodGet, "/api/v1/deployments/missing", admin, nil); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestRouterDeploymentAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := token(t, "proctor", app.RoleAdmin)
	d := env.createDeployment(t, admin)
	base := "/api/v1/deployments/" + d.ID

	status, res := env.do(t, http.MethodPatch, base, admin, map[string]any{"duration_minutes": 10})
	if status != http.StatusBadRequest || res.Error.Code != "validation" {
		t.Fatalf("expected 400 for short duration, got %d %+v", status, res.Error)
	}
	status, res = env.do(t, http.MethodPut, base+"/activation", admin, map[string]string{"activation": "activated"})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for unchanged activation, got %d %+v", status, res.Error)
	}

	status, res = env.do(t, http.MethodGet, base+"/snapshot", admin, nil)
	if status != http.StatusOK || !bytes.Contains(res.Data, []byte(`"answer"`)) {
		t.Fatalf("snapshot should include canonical answers: %d %s", status, res.Data)
	}

	status, res = env.do(t, http.MethodPost, "/api/v1/exams/exam-1/questions", admin, map[string]any{
		"type": "true_false", "prompt": "Go has generics.", "answer": true, "point": 2,
	})
	if status != http.StatusCreated {
		t.Fatalf("add question: %d %+v", status, res.Error)
	}
	status, res = env.do(t, http.MethodPost, "/api/v1/exams/exam-1/questions", admin, map[string]any{
		"type": "true_false", "prompt": "p", "answer": true, "point": 11,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected point range rejected, got %d", status)
	}

	if status, _ := env.do(t, http.MethodDelete, base, admin, nil); status != http.StatusNoContent {
		t.Fatalf("delete deployment: %d", status)
	}
	if status, _ := env.do(t, http.MethodGet, base, admin, nil); status != http.StatusNotFound {
		t.Fatalf("expected deleted deployment to be gone, got %d", status)
	}
}
