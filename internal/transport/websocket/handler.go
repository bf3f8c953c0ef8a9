package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/orchestrator"
	"github.com/rajeee/chatdf/internal/pushchannel"
)

const (
	readLimitBytes = 64 * 1024
	pongWait       = 60 * time.Second
)

// inboundMessage is the one client-originated frame type the socket
// accepts: a chat send. Anything else is logged and dropped.
type inboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// Handler upgrades HTTP connections to WebSocket, attaches them to the push
// channel registry after session validation, and dispatches inbound
// send_message frames to the orchestrator.
type Handler struct {
	registry     *pushchannel.Registry
	orchestrator *orchestrator.Service
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *logrus.Entry
}

// Config configures allowed origins for the upgrade's CORS check (§4.1's
// transport is otherwise origin-agnostic).
type Config struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

// New builds a Handler. orchestratorSvc may be nil in configurations that
// only need fan-out (e.g. a read-only push channel).
func New(registry *pushchannel.Registry, orchestratorSvc *orchestrator.Service, cfg Config, logger *logrus.Entry) *Handler {
	return &Handler{
		registry:     registry,
		orchestrator: orchestratorSvc,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == origin {
				return true
			}
		}
		return false
	}
}

// HandleUpgrade is the Gin endpoint: upgrades, validates the session token
// (query parameter "token"), attaches the peer, then blocks reading
// inbound frames until the connection closes.
func (h *Handler) HandleUpgrade(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	adapter := newConn(ws, h.writeTimeout)
	token := c.Query("token")

	peer, err := h.registry.Attach(c.Request.Context(), token, adapter)
	if err != nil {
		adapter.closeWithCode(pushchannel.AuthCloseCode, "authentication failed")
		return
	}
	defer h.registry.Detach(peer)

	ws.SetReadLimit(readLimitBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.readLoop(ws, peer)
}

// readLoop drains inbound frames until the connection errors or closes,
// dispatching each recognized frame on its own goroutine so a slow
// orchestrator run never stalls the read pump (mirrors chat_handler.go's
// readPump spawning generateAIResponse on its own goroutine).
func (h *Handler) readLoop(ws *websocket.Conn, peer *pushchannel.Peer) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.WithError(err).Warn("invalid inbound websocket frame")
			continue
		}
		if msg.Type != "send_message" {
			continue
		}

		go h.dispatch(peer, msg)
	}
}

func (h *Handler) dispatch(peer *pushchannel.Peer, msg inboundMessage) {
	if h.orchestrator == nil {
		return
	}
	ctx := context.Background()
	_, err := h.orchestrator.ProcessMessage(ctx, orchestrator.ProcessMessageRequest{
		ConversationID: domain.ConversationID(msg.ConversationID),
		PrincipalID:    peer.PrincipalID(),
		Content:        msg.Content,
	})
	if err != nil {
		h.logger.WithError(err).WithField("conversation_id", msg.ConversationID).Warn("process_message failed")
	}
}
