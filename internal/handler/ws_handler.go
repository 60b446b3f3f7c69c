package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/weiawesome/wes-io-live/dm-service/internal/config"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/hub"
	"github.com/weiawesome/wes-io-live/dm-service/internal/service"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/middleware"
)

// WSHandler serves the real-time event channel.
type WSHandler struct {
	hub      *hub.Hub
	delivery service.DeliveryService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler. An empty allowedOrigins list
// or a "*" entry accepts any origin.
func NewWSHandler(h *hub.Hub, delivery service.DeliveryService, wsCfg config.WebSocketConfig, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:      h,
		delivery: delivery,
		wsCfg:    wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// RegisterRoutes registers the upgrade endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request and runs the connection until it closes.
// A token presented on the handshake is used when addUser carries none.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	handshakeToken, _ := middleware.ExtractToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := ulid.Make().String()
	client := hub.NewClient(clientID, h.hub, conn, h.wsCfg)

	ctx := log.WithConn(context.Background(), clientID)

	h.hub.Register(client)
	h.delivery.HandleConnect(ctx, client)

	go client.WritePump()
	go func() {
		client.ReadPump(func(cl *hub.Client, message []byte) {
			h.handleMessage(ctx, cl, message, handshakeToken)
		})
		if err := h.delivery.HandleDisconnect(ctx, client); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("disconnect handling failed")
		}
	}()
}

func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte, handshakeToken string) {
	l := log.Ctx(ctx)

	var base domain.BaseEvent
	if err := json.Unmarshal(message, &base); err != nil {
		client.Send(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid message format"))
		return
	}

	switch base.Type {
	case domain.EventAddUser:
		var ev domain.AddUserEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			client.Send(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid addUser event"))
			return
		}
		if ev.Token == "" {
			ev.Token = handshakeToken
		}
		if err := h.delivery.HandleAddUser(ctx, client, &ev); err != nil {
			l.Warn().Err(err).Msg("addUser failed")
		}

	case domain.EventSendMessage:
		var ev domain.SendMessageEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			client.Send(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid sendMessage event"))
			return
		}
		if err := h.delivery.HandleSendMessage(ctx, client, &ev); err != nil {
			l.Warn().Err(err).Str(log.FieldConversationID, ev.ConversationID).Msg("sendMessage failed")
		}

	case domain.EventTyping:
		var ev domain.TypingEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			client.Send(domain.NewErrorEvent(domain.ErrCodeBadRequest, "invalid typing event"))
			return
		}
		if err := h.delivery.HandleTyping(ctx, client, &ev); err != nil {
			l.Debug().Err(err).Str(log.FieldConversationID, ev.ConversationID).Msg("typing failed")
		}

	case domain.EventPing:
		client.Send(&domain.PongEvent{Type: domain.EventPong})

	default:
		client.Send(domain.NewErrorEvent(domain.ErrCodeBadRequest, "unknown event type"))
	}
}
