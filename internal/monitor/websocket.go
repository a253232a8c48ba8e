package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type wireEvent struct {
	Type      model.EventType `json:"type"`
	Data      map[string]any  `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// WSHandler carries a hub subscription over a WebSocket.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewWSHandler accepts any origin when allowedOrigins is empty.
func NewWSHandler(hub *Hub, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 || allowed["*"] {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// Serve upgrades the request and streams events for the pair until the job
// ends or the client leaves. Closes with 1000 after a terminal event and 1011
// when the job crashed.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, campaignID, companyID int) {
	log := zap.L().With(zap.Int("campaign_id", campaignID), zap.Int("company_id", companyID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Warn("monitor upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(campaignID, companyID)
	defer sub.Close()
	log.Debug("monitor attached")

	go readPump(conn, sub)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				closeWith(conn, sub.Reason())
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(wireEvent{Type: e.Type, Data: e.Data, Timestamp: e.Timestamp}); err != nil {
				log.Debug("monitor write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains control frames and detaches the observer on disconnect.
func readPump(conn *websocket.Conn, sub *Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, reason CloseReason) {
	var msg []byte
	switch reason {
	case ReasonTerminal:
		msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	case ReasonReplaced:
		msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by a newer observer")
	case ReasonCrashed:
		msg = websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "job crashed")
	case ReasonShutdown:
		msg = websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	default:
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
