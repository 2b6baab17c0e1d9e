package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/domain"
)

const writeWait = 10 * time.Second

// WSHandler runs a live attempt over a websocket: it starts or resumes the
// attempt, streams countdown ticks and accepts answers and submission.
type WSHandler struct {
	service  *app.AssessmentService
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	tick     time.Duration
}

func NewWSHandler(service *app.AssessmentService, log logrus.FieldLogger, origins []string) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		tick:    time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Index  int `json:"index"`
	Option int `json:"option"`
}

type proctoringPayload struct {
	TabSwitches  int `json:"tabSwitches"`
	CopyAttempts int `json:"copyAttempts"`
}

type submitPayload struct {
	Reason domain.SubmitReason `json:"reason"`
}

type tickPayload struct {
	RemainingSeconds int `json:"remainingSeconds"`
}

type noticePayload struct {
	Message string `json:"message"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and drives one attempt until it is finalized
// or the client disconnects. A disconnect stops the countdown without
// finalizing; reconnecting resumes with the time left.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	participant := participantFrom(r)
	mode := domain.Mode(r.URL.Query().Get("mode"))
	if mode != "" && !mode.Valid() {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidMode.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out, err := h.service.Begin(ctx, participant, mode)
	if err != nil {
		writeClose(conn, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	if out.Attempt == nil {
		writeClose(conn, outboundMessage[any]{Type: "refused", Payload: out.Decision})
		return
	}
	attempt := out.Attempt
	if attempt.Completed() {
		writeClose(conn, outboundMessage[any]{Type: "result", Payload: newResultView(attempt.Record())})
		h.service.Release(attempt.Key())
		return
	}

	send := make(chan outboundMessage[any], 16)
	closed := make(chan struct{})
	writerDone := make(chan struct{})
	emit := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-closed:
		}
	}

	go func() {
		defer close(writerDone)
		for {
			select {
			case msg := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					h.log.WithError(err).Debug("ws write failed")
					return
				}
			case <-closed:
				return
			}
		}
	}()

	emit(outboundMessage[any]{Type: "attempt", Payload: newAttemptView(attempt, out.Resumed)})

	countdown := app.NewAttemptCountdown(attempt,
		app.WithInterval(h.tick),
		app.WithTickHandler(func(remaining time.Duration) {
			emit(outboundMessage[any]{Type: "tick", Payload: tickPayload{RemainingSeconds: displaySeconds(remaining)}})
		}),
	)
	countdown.Start(ctx)

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-countdown.Done():
		case <-closed:
			return
		}
		if countdown.State() == app.CountdownStopped {
			return
		}
		if err := countdown.Err(); err != nil {
			emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		h.service.Release(attempt.Key())
		emit(outboundMessage[any]{Type: "result", Payload: newResultView(attempt.Record())})
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(ctx, attempt, countdown, inbound, emit)
	}

	countdown.Stop()
	close(closed)
	<-watcherDone
	<-writerDone
	if !attempt.Completed() {
		h.service.Release(attempt.Key())
	}
}

func (h *WSHandler) dispatch(ctx context.Context, attempt *app.Attempt, countdown *app.Countdown, in inboundMessage, emit func(outboundMessage[any])) {
	fail := func(msg string) {
		emit(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}})
	}
	switch in.Type {
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			fail("invalid answer payload")
			return
		}
		if err := attempt.RecordAnswer(ctx, p.Index, p.Option); err != nil {
			if app.IsPersistenceError(err) {
				emit(outboundMessage[any]{Type: "notice", Payload: noticePayload{Message: "answer kept locally, saving will be retried"}})
				return
			}
			fail(err.Error())
			return
		}
		emit(outboundMessage[any]{Type: "answerSaved", Payload: p})
	case "proctoring":
		var p proctoringPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			fail("invalid proctoring payload")
			return
		}
		if err := attempt.RecordProctoring(ctx, p.TabSwitches, p.CopyAttempts); err != nil {
			emit(outboundMessage[any]{Type: "notice", Payload: noticePayload{Message: "proctoring counters not saved"}})
		}
	case "submit":
		var p submitPayload
		if len(in.Payload) > 0 {
			if err := json.Unmarshal(in.Payload, &p); err != nil {
				fail("invalid submit payload")
				return
			}
		}
		if p.Reason == "" {
			p.Reason = domain.ReasonManual
		}
		if !p.Reason.Valid() || p.Reason == domain.ReasonTimeExpired {
			fail("unsupported submit reason")
			return
		}
		// the watcher reports the result once Done closes
		_ = countdown.Submit(ctx, p.Reason)
	default:
		fail("unsupported message type")
	}
}

func writeClose(conn *websocket.Conn, msg outboundMessage[any]) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(msg)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
