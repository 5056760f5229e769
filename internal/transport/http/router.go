package http

import (
	"log/slog"
	"net/http"

	"exam-deployment-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the REST API and the live exam websocket.
func NewRouter(services *app.Services, auth *Authenticator, log *slog.Logger) http.Handler {
	h := NewHandler(services, log)
	ws := NewWSHandler(services, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	r.Group(func(secure chi.Router) {
		secure.Use(auth.RequireAuth)
		secure.Get("/ws/deployments/{id}", ws.ServeWS)

		secure.Route("/api/v1", func(api chi.Router) {
			api.Post("/deployments/{id}/access", h.VerifyAccess)
			api.Get("/deployments/{id}/questions", h.FetchQuestions)
			api.Put("/deployments/{id}/answers", h.SaveAnswers)
			api.Post("/deployments/{id}/submissions", h.Submit)
			api.Post("/deployments/{id}/cheating-events", h.RecordCheating)
			api.Get("/submissions/{id}/result", h.GetResult)

			api.Group(func(admin chi.Router) {
				admin.Use(RequireRole(app.RoleAdmin))
				admin.Post("/deployments", h.CreateDeployment)
				admin.Get("/deployments/{id}", h.GetDeployment)
				admin.Patch("/deployments/{id}", h.PatchDeployment)
				admin.Delete("/deployments/{id}", h.DeleteDeployment)
				admin.Put("/deployments/{id}/activation", h.SetActivation)
				admin.Get("/deployments/{id}/snapshot", h.GetSnapshot)
				admin.Get("/deployments/{id}/submissions", h.ListSubmissions)

				admin.Post("/exams/{examID}/questions", h.AddQuestion)
				admin.Get("/exams/{examID}/questions", h.ListQuestions)
				admin.Get("/questions/{id}", h.GetQuestion)
				admin.Put("/questions/{id}", h.UpdateQuestion)
				admin.Delete("/questions/{id}", h.DeleteQuestion)
			})
		})
	})

	return r
}
