package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/app"
)

// DashboardHandler streams dashboard snapshots to administrators.
type DashboardHandler struct {
	dashboard *app.Dashboard
	log       logrus.FieldLogger
	upgrader  websocket.Upgrader
}

func NewDashboardHandler(dashboard *app.Dashboard, log logrus.FieldLogger, origins []string) *DashboardHandler {
	return &DashboardHandler{
		dashboard: dashboard,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// Snapshot handles GET /api/admin/dashboard.
func (h *DashboardHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dashboard.Snapshot())
}

// ServeWS pushes a snapshot on connect and after every change. Inbound
// messages are ignored; reading only detects the disconnect.
func (h *DashboardHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("dashboard ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.dashboard.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(outboundMessage[app.DashboardSnapshot]{Type: "dashboard", Payload: snap}); err != nil {
				h.log.WithError(err).Debug("dashboard ws write failed")
				return
			}
		case <-closed:
			return
		}
	}
}
