package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"exam-deployment-service/internal/app"
	"exam-deployment-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// WSHandler runs a live exam session: the client saves drafts, reports
// cheating events and submits over one connection.
type WSHandler struct {
	services *app.Services
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(services *app.Services, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		services: services,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answersPayload struct {
	Answers map[string]json.RawMessage `json:"answers"`
}

type savedPayload struct {
	Answered int `json:"answered"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ServeWS upgrades an authenticated request once the access code checks
// out, then serves session messages until the attempt ends or the client
// leaves.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "id")
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "validation", "missing code")
		return
	}
	// Failing before the upgrade lets plain HTTP clients see the status.
	if err := h.services.Access.Verify(r.Context(), deploymentID, code); err != nil {
		writeFailure(w, r, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	view, err := h.services.Attempts.FetchQuestions(r.Context(), deploymentID, p.UserID)
	if err != nil {
		_ = conn.WriteJSON(errorMessage(err))
		return
	}

	out := startOutbox(conn.WriteJSON, func(err error) {
		h.log.Warn("ws write error", "error", err)
		// Unblocks ReadJSON below.
		_ = conn.Close()
	})
	done := false
	emit := func(msg outboundMessage) {
		if !out.push(msg) {
			done = true
		}
	}

	emit(outboundMessage{Type: "questions", Payload: view})

	for !done {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answers":
			var payload answersPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				emit(outboundMessage{Type: "error", Payload: errorPayload{Code: "validation", Message: "invalid answers payload"}})
				continue
			}
			answered, err := h.services.Attempts.SaveAnswers(r.Context(), deploymentID, p.UserID, payload.Answers)
			if err != nil {
				emit(h.failure(err))
				continue
			}
			emit(outboundMessage{Type: "saved", Payload: savedPayload{Answered: answered}})
		case "cheat":
			outcome, err := h.services.Cheating.RecordEvent(r.Context(), deploymentID, p.UserID)
			if err != nil {
				emit(h.failure(err))
				continue
			}
			emit(outboundMessage{Type: "cheating", Payload: outcome})
			if outcome.ForcedCompleted {
				emit(outboundMessage{Type: "submitted", Payload: outcome.Submission})
				done = true
			}
		case "submit":
			var payload answersPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					emit(outboundMessage{Type: "error", Payload: errorPayload{Code: "validation", Message: "invalid submit payload"}})
					continue
				}
			}
			sub, err := h.services.Submissions.Submit(r.Context(), app.SubmitInput{
				DeploymentID: deploymentID,
				SubmitterID:  p.UserID,
				Answers:      payload.Answers,
			})
			if err != nil {
				emit(h.failure(err))
				continue
			}
			emit(outboundMessage{Type: "submitted", Payload: sub})
			done = true
		default:
			emit(outboundMessage{Type: "error", Payload: errorPayload{Code: "validation", Message: "unsupported message type"}})
		}
	}

	out.close()
}

func (h *WSHandler) failure(err error) outboundMessage {
	var de *domain.Error
	if !errors.As(err, &de) {
		h.log.Error("ws session failed", "error", err)
	}
	return errorMessage(err)
}

func errorMessage(err error) outboundMessage {
	var de *domain.Error
	if errors.As(err, &de) {
		return outboundMessage{Type: "error", Payload: errorPayload{Code: de.Kind.String(), Message: de.Error()}}
	}
	return outboundMessage{Type: "error", Payload: errorPayload{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}}
}

// outbox serializes writes to one connection on its own goroutine.
type outbox struct {
	msgs chan outboundMessage
	done chan struct{}
}

func startOutbox(write func(v interface{}) error, onError func(error)) *outbox {
	o := &outbox{msgs: make(chan outboundMessage, 16), done: make(chan struct{})}
	go func() {
		defer close(o.done)
		for msg := range o.msgs {
			if err := write(msg); err != nil {
				onError(err)
				return
			}
		}
	}()
	return o
}

// push queues msg. It reports false once the writer has stopped, so a
// dead connection never blocks the reader.
func (o *outbox) push(msg outboundMessage) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.msgs <- msg:
		return true
	case <-o.done:
		return false
	}
}

// close flushes queued messages and waits for the writer to exit.
func (o *outbox) close() {
	close(o.msgs)
	<-o.done
}
