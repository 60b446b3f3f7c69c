package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/service"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/response"
)

// HTTPHandler serves the REST surface of the messaging service.
type HTTPHandler struct {
	conversations service.ConversationService
	messages      service.MessageService
	reactions     service.ReactionService
	delivery      service.DeliveryService
	auth          gin.HandlerFunc
}

// NewHTTPHandler creates a new HTTP handler. auth must put the caller id in
// the Gin context under middleware.UserIDKey.
func NewHTTPHandler(
	conversations service.ConversationService,
	messages service.MessageService,
	reactions service.ReactionService,
	delivery service.DeliveryService,
	auth gin.HandlerFunc,
) *HTTPHandler {
	return &HTTPHandler{
		conversations: conversations,
		messages:      messages,
		reactions:     reactions,
		delivery:      delivery,
		auth:          auth,
	}
}

// RegisterRoutes registers all routes.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(h.auth)
	{
		conversations := api.Group("/conversations")
		{
			conversations.POST("", h.CreateConversation)
			conversations.GET("/:userId", h.ListConversations)
			conversations.GET("/:userId/find/:otherUserId", h.FindConversation)
		}

		messages := api.Group("/messages")
		{
			messages.POST("", h.SendMessage)
			messages.POST("/share-post", h.SharePost)
			messages.GET("/:conversationId", h.ListMessages)
			messages.PATCH("/:id/reaction", h.SetReaction)
			messages.DELETE("/:id/reaction", h.ClearReaction)
		}

		api.GET("/presence/:userId", h.GetPresence)
	}
}

// CreateConversation returns the conversation of the pair, creating it on first use.
func (h *HTTPHandler) CreateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid create conversation request")
		response.BadRequest(c, err.Error())
		return
	}

	conv, err := h.conversations.FindOrCreate(ctx, middleware.GetUserID(c), req.SenderID, req.ReceiverID)
	if err != nil {
		writeError(c, err, "failed to create conversation")
		return
	}

	response.Success(c, conv)
}

// ListConversations lists the caller's conversations, most recent first.
func (h *HTTPHandler) ListConversations(c *gin.Context) {
	userID := c.Param("userId")
	if userID != middleware.GetUserID(c) {
		response.Forbidden(c, "cannot list another user's conversations")
		return
	}

	convs, err := h.conversations.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to list conversations")
		return
	}

	response.Success(c, convs)
}

// FindConversation looks up the conversation with another user without creating it.
func (h *HTTPHandler) FindConversation(c *gin.Context) {
	userID := c.Param("userId")
	callerID := middleware.GetUserID(c)
	if userID != callerID {
		response.Forbidden(c, "cannot look up another user's conversations")
		return
	}

	conv, err := h.conversations.Find(c.Request.Context(), callerID, userID, c.Param("otherUserId"))
	if err != nil {
		writeError(c, err, "failed to find conversation")
		return
	}

	response.Success(c, conv)
}

// SendMessage appends a text message and pushes it to connected members.
func (h *HTTPHandler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid send message request")
		response.BadRequest(c, err.Error())
		return
	}
	if req.Sender != middleware.GetUserID(c) {
		response.Forbidden(c, "sender must be the authenticated user")
		return
	}

	msg, err := h.messages.Append(ctx, req.ConversationID, req.Sender, req.Text)
	if err != nil {
		writeError(c, err, "failed to send message")
		return
	}
	h.publish(c, msg)

	response.Created(c, msg)
}

// SharePost appends a snapshot of a post as a message.
func (h *HTTPHandler) SharePost(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.SharePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid share post request")
		response.BadRequest(c, err.Error())
		return
	}

	callerID := middleware.GetUserID(c)
	if req.ReceiverID != "" {
		conv, err := h.conversations.RequireMember(ctx, req.ConversationID, callerID)
		if err != nil {
			writeError(c, err, "failed to share post")
			return
		}
		if conv.OtherMember(callerID) != req.ReceiverID {
			response.BadRequest(c, "receiverId is not the other member of the conversation")
			return
		}
	}

	msg, err := h.messages.AppendSharedPost(ctx, req.ConversationID, callerID, req.PostID)
	if err != nil {
		writeError(c, err, "failed to share post")
		return
	}
	h.publish(c, msg)

	response.Created(c, msg)
}

// ListMessages returns a conversation's history, oldest first.
func (h *HTTPHandler) ListMessages(c *gin.Context) {
	messages, err := h.messages.List(c.Request.Context(), c.Param("conversationId"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to list messages")
		return
	}

	response.Success(c, messages)
}

// SetReaction sets or replaces the caller's reaction on a message.
func (h *HTTPHandler) SetReaction(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)
	var req domain.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid reaction request")
		response.BadRequest(c, err.Error())
		return
	}

	callerID := middleware.GetUserID(c)
	state, err := h.reactions.SetReaction(ctx, c.Param("id"), callerID, req.Emoji)
	if err != nil {
		writeError(c, err, "failed to set reaction")
		return
	}
	h.publishReaction(c, callerID, state)

	response.Success(c, state)
}

// ClearReaction removes the caller's reaction from a message.
func (h *HTTPHandler) ClearReaction(c *gin.Context) {
	callerID := middleware.GetUserID(c)
	state, err := h.reactions.ClearReaction(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		writeError(c, err, "failed to clear reaction")
		return
	}
	h.publishReaction(c, callerID, state)

	response.Success(c, state)
}

// GetPresence reports whether a user has a live connection.
func (h *HTTPHandler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	online, err := h.delivery.IsOnline(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to get presence")
		return
	}

	response.Success(c, &domain.PresenceResponse{UserID: userID, Online: online})
}

// publish pushes a stored message to connected members. The message is
// already persisted, so a failed push is logged and not reported.
func (h *HTTPHandler) publish(c *gin.Context, msg *domain.Message) {
	if err := h.delivery.PublishMessage(c.Request.Context(), msg, ""); err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to push message")
	}
}

func (h *HTTPHandler) publishReaction(c *gin.Context, actorID string, state *domain.ReactionState) {
	if err := h.delivery.PublishReaction(c.Request.Context(), actorID, state); err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Str(log.FieldMessageID, state.MessageID).Msg("failed to push reaction")
	}
}

var httpErrors = response.ErrorMap{
	{Target: domain.ErrValidation, Status: http.StatusBadRequest},
	{Target: domain.ErrSelfConversation, Status: http.StatusBadRequest},
	{Target: domain.ErrNotFound, Status: http.StatusNotFound},
	{Target: domain.ErrForbidden, Status: http.StatusForbidden},
}

// writeError maps a service error to its HTTP response.
func writeError(c *gin.Context, err error, fallback string) {
	if !httpErrors.Write(c, err, fallback) {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(fallback)
	}
}
