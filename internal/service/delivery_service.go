package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/weiawesome/wes-io-live/dm-service/internal/audit"
	"github.com/weiawesome/wes-io-live/dm-service/internal/directory"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/internal/registry"
	"github.com/weiawesome/wes-io-live/dm-service/internal/relay"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/middleware"
)

const (
	DefaultTypingWindow = 2 * time.Second
	defaultDedupSize    = 16384
)

var ErrNotIdentified = errors.New("connection is not identified")

// DeliveryOptions holds the optional collaborators of the delivery bus.
// A nil Tokens disables token checks on addUser; nil Mirror and Relay keep
// presence and delivery local to this instance.
type DeliveryOptions struct {
	Tokens       middleware.TokenValidator
	Mirror       registry.PresenceMirror
	Relay        relay.Relay
	TypingWindow time.Duration
	DedupSize    int
}

type typingEntry struct {
	timer          *time.Timer
	conversationID string
	userID         string
	recipient      string
}

type deliveryService struct {
	registry      registry.Registry
	conversations ConversationService
	messages      MessageService
	users         directory.UserDirectory
	tokens        middleware.TokenValidator
	mirror        registry.PresenceMirror
	relay         relay.Relay
	typingWindow  time.Duration
	delivered     *lru.Cache

	typingMu sync.Mutex
	typing   map[string]*typingEntry
}

func NewDeliveryService(
	reg registry.Registry,
	conversations ConversationService,
	messages MessageService,
	users directory.UserDirectory,
	opts DeliveryOptions,
) (DeliveryService, error) {
	if opts.TypingWindow <= 0 {
		opts.TypingWindow = DefaultTypingWindow
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = defaultDedupSize
	}
	delivered, err := lru.New(opts.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery dedup cache: %w", err)
	}

	return &deliveryService{
		registry:      reg,
		conversations: conversations,
		messages:      messages,
		users:         users,
		tokens:        opts.Tokens,
		mirror:        opts.Mirror,
		relay:         opts.Relay,
		typingWindow:  opts.TypingWindow,
		delivered:     delivered,
		typing:        make(map[string]*typingEntry),
	}, nil
}

func (s *deliveryService) HandleConnect(ctx context.Context, conn Connection) {
	metrics.ConnectedHandles.Inc()
	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldConnID, conn.ID()).Msg("connection opened")
}

func (s *deliveryService) HandleAddUser(ctx context.Context, conn Connection, ev *domain.AddUserEvent) error {
	userID := strings.TrimSpace(ev.UserID)
	if userID == "" {
		return s.reject(conn, domain.ValidationError("userId", "is required"))
	}

	if s.tokens != nil {
		if ev.Token == "" {
			audit.LogWithDetail(ctx, audit.ActionIdentifyFailed, userID, "missing token", "identify rejected")
			conn.Send(domain.NewErrorEvent(domain.ErrCodeUnauthorized, "token is required"))
			return fmt.Errorf("identify %s: missing token", userID)
		}
		claims, err := s.tokens.ValidateToken(ev.Token)
		if err != nil {
			audit.LogWithDetail(ctx, audit.ActionIdentifyFailed, userID, err.Error(), "identify rejected")
			conn.Send(domain.NewErrorEvent(domain.ErrCodeUnauthorized, "token is invalid"))
			return fmt.Errorf("identify %s: %w", userID, err)
		}
		if claims.Identity() != userID {
			audit.LogWithDetail(ctx, audit.ActionIdentifyFailed, userID, "identity mismatch", "identify rejected")
			return s.reject(conn, fmt.Errorf("%w: token does not belong to userId", domain.ErrForbidden))
		}
	}

	if !conn.Session().Identify(userID) {
		return s.reject(conn, fmt.Errorf("%w: connection is bound to another user", domain.ErrForbidden))
	}

	if first := s.registry.Add(userID, conn); first && s.mirror != nil {
		if err := s.mirror.MarkOnline(ctx, userID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to mirror presence")
		}
	}
	metrics.IdentifiedUsers.Set(float64(len(s.registry.OnlineUsers())))
	audit.LogTarget(ctx, audit.ActionIdentify, userID, conn.ID(), "connection identified")

	conn.Send(&domain.IdentifiedEvent{Type: domain.EventIdentified, UserID: userID})
	return nil
}

func (s *deliveryService) HandleSendMessage(ctx context.Context, conn Connection, ev *domain.SendMessageEvent) error {
	sender, err := s.identified(conn)
	if err != nil {
		return err
	}

	conv, err := s.conversations.RequireMember(ctx, strings.TrimSpace(ev.ConversationID), sender)
	if err != nil {
		return s.reject(conn, err)
	}
	if ev.ReceiverID != "" && ev.ReceiverID != conv.OtherMember(sender) {
		return s.reject(conn, domain.ValidationError("receiverId", "is not the other member of the conversation"))
	}

	var msg *domain.Message
	switch {
	case ev.MessageID != "":
		msg, err = s.messages.Get(ctx, ev.MessageID)
		if err != nil {
			return s.reject(conn, err)
		}
		if msg.ConversationID != conv.ID {
			return s.reject(conn, domain.ValidationError("messageId", "does not belong to the conversation"))
		}
		if msg.Sender != sender {
			return s.reject(conn, fmt.Errorf("%w: message was sent by another user", domain.ErrForbidden))
		}
	case strings.TrimSpace(ev.Text) != "":
		msg, err = s.messages.Append(ctx, conv.ID, sender, ev.Text)
		if err != nil {
			return s.reject(conn, err)
		}
	default:
		return s.reject(conn, domain.ValidationError("messageId", "or text is required"))
	}

	return s.PublishMessage(ctx, msg, conn.ID())
}

func (s *deliveryService) HandleTyping(ctx context.Context, conn Connection, ev *domain.TypingEvent) error {
	sender, err := s.identified(conn)
	if err != nil {
		return err
	}

	conv, err := s.conversations.RequireMember(ctx, strings.TrimSpace(ev.ConversationID), sender)
	if err != nil {
		return s.reject(conn, err)
	}
	recipient := conv.OtherMember(sender)
	if ev.ReceiverID != "" && ev.ReceiverID != recipient {
		return s.reject(conn, domain.ValidationError("receiverId", "is not the other member of the conversation"))
	}

	name := strings.TrimSpace(ev.SenderName)
	if name == "" {
		if user, err := s.users.GetUser(ctx, sender); err == nil {
			name = user.Username
		}
	}

	s.deliver(ctx, recipient, "", domain.EventTyping, &domain.TypingOut{
		Type:           domain.EventTyping,
		SenderName:     name,
		ConversationID: conv.ID,
		UserID:         sender,
		ExpiresInMs:    s.typingWindow.Milliseconds(),
	})
	s.armTypingTimer(conv.ID, sender, recipient)
	return nil
}

func (s *deliveryService) HandleDisconnect(ctx context.Context, conn Connection) error {
	metrics.ConnectedHandles.Dec()

	userID, wasIdentified := conn.Session().Close()
	if !wasIdentified {
		return nil
	}

	if last := s.registry.Remove(userID, conn); last {
		s.stopTypingFor(userID)
		if s.mirror != nil {
			if err := s.mirror.MarkOffline(ctx, userID); err != nil {
				l := log.Ctx(ctx)
				l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to clear mirrored presence")
			}
		}
	}
	metrics.IdentifiedUsers.Set(float64(len(s.registry.OnlineUsers())))
	audit.LogTarget(ctx, audit.ActionDisconnect, userID, conn.ID(), "connection closed")
	return nil
}

func (s *deliveryService) PublishMessage(ctx context.Context, msg *domain.Message, exceptConn string) error {
	if s.delivered.Contains(msg.ID) {
		return nil
	}

	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to resolve conversation for delivery: %w", err)
	}
	// Marked only once the conversation resolved, so a failed attempt can be retried.
	if seen, _ := s.delivered.ContainsOrAdd(msg.ID, struct{}{}); seen {
		return nil
	}
	recipient := conv.OtherMember(msg.Sender)

	frame := domain.NewReceiveMessageEvent(msg, recipient)
	if recipient != "" {
		s.deliver(ctx, recipient, "", domain.EventReceiveMessage, frame)
	}
	s.deliver(ctx, msg.Sender, exceptConn, domain.EventReceiveMessage, frame)
	return nil
}

func (s *deliveryService) PublishReaction(ctx context.Context, actorID string, state *domain.ReactionState) error {
	conv, err := s.conversations.Get(ctx, state.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to resolve conversation for delivery: %w", err)
	}

	frame := &domain.ReactionOut{Type: domain.EventReaction, UserID: actorID, ReactionState: state}
	for _, member := range conv.Members {
		s.deliver(ctx, member, "", domain.EventReaction, frame)
	}
	return nil
}

func (s *deliveryService) IsOnline(ctx context.Context, userID string) (bool, error) {
	if s.registry.IsOnline(userID) {
		return true, nil
	}
	if s.mirror == nil {
		return false, nil
	}
	return s.mirror.IsOnline(ctx, userID)
}

func (s *deliveryService) Start(ctx context.Context) error {
	if s.mirror != nil {
		if err := s.mirror.StartHeartbeat(ctx); err != nil {
			return fmt.Errorf("failed to start presence heartbeat: %w", err)
		}
	}
	if s.relay != nil {
		if err := s.relay.Start(ctx, s.deliverRemote); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
	}
	l := log.L()
	l.Info().Dur("typing_window", s.typingWindow).Msg("delivery service started")
	return nil
}

func (s *deliveryService) Stop() error {
	s.typingMu.Lock()
	for key, entry := range s.typing {
		entry.timer.Stop()
		delete(s.typing, key)
	}
	s.typingMu.Unlock()

	l := log.L()
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close presence mirror")
		}
	}
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close relay")
		}
	}
	return nil
}

// deliver pushes frame to the local handles of userID and, with a relay, to
// handles on other instances. Failed pushes are counted and dropped.
func (s *deliveryService) deliver(ctx context.Context, userID, exceptConn, eventType string, frame interface{}) {
	s.deliverLocal(userID, exceptConn, eventType, frame)

	if s.relay != nil {
		if err := s.relay.Publish(ctx, userID, exceptConn, frame); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldTargetUserID, userID).Str(log.FieldEventType, eventType).Msg("relay publish failed")
		}
		return
	}
	if !s.registry.IsOnline(userID) {
		metrics.RecordMiss(metrics.MissOffline)
	}
}

func (s *deliveryService) deliverLocal(userID, exceptConn, eventType string, frame interface{}) int {
	delivered := 0
	for _, c := range s.registry.Connections(userID) {
		if c.ID() == exceptConn {
			continue
		}
		if c.Send(frame) {
			delivered++
			metrics.RecordDelivery(eventType)
		} else {
			metrics.RecordMiss(metrics.MissBufferFull)
		}
	}
	return delivered
}

func (s *deliveryService) deliverRemote(userID, exceptConn string, frame json.RawMessage) {
	var base domain.BaseEvent
	if err := json.Unmarshal(frame, &base); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldTargetUserID, userID).Msg("dropping malformed relayed frame")
		return
	}
	s.deliverLocal(userID, exceptConn, base.Type, frame)
}

func typingKey(conversationID, userID string) string {
	return conversationID + "|" + userID
}

// armTypingTimer (re)starts the window after which the recipient is told the
// sender stopped typing.
func (s *deliveryService) armTypingTimer(conversationID, userID, recipient string) {
	key := typingKey(conversationID, userID)

	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	if entry, ok := s.typing[key]; ok {
		entry.timer.Stop()
	}
	entry := &typingEntry{conversationID: conversationID, userID: userID, recipient: recipient}
	entry.timer = time.AfterFunc(s.typingWindow, func() {
		s.typingMu.Lock()
		current, ok := s.typing[key]
		if !ok || current != entry {
			s.typingMu.Unlock()
			return
		}
		delete(s.typing, key)
		s.typingMu.Unlock()

		s.sendStopTyping(entry)
	})
	s.typing[key] = entry
}

// stopTypingFor ends every typing window of a user who went offline.
func (s *deliveryService) stopTypingFor(userID string) {
	var ended []*typingEntry

	s.typingMu.Lock()
	for key, entry := range s.typing {
		if entry.userID == userID {
			entry.timer.Stop()
			delete(s.typing, key)
			ended = append(ended, entry)
		}
	}
	s.typingMu.Unlock()

	for _, entry := range ended {
		s.sendStopTyping(entry)
	}
}

func (s *deliveryService) sendStopTyping(entry *typingEntry) {
	s.deliver(context.Background(), entry.recipient, "", domain.EventStopTyping, &domain.StopTypingOut{
		Type:           domain.EventStopTyping,
		ConversationID: entry.conversationID,
		UserID:         entry.userID,
	})
}

func (s *deliveryService) identified(conn Connection) (string, error) {
	sess := conn.Session()
	if !sess.IsIdentified() {
		conn.Send(domain.NewErrorEvent(domain.ErrCodeNotIdentified, "send addUser first"))
		return "", ErrNotIdentified
	}
	return sess.GetUserID(), nil
}

// reject reports err to the connection as an error frame and returns it.
func (s *deliveryService) reject(conn Connection, err error) error {
	code, message := ErrorCode(err)
	conn.Send(domain.NewErrorEvent(code, message))
	return err
}

// ErrorCode maps a service error to its wire code and a client-safe message.
func ErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSelfConversation):
		return domain.ErrCodeBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrCodeNotFound, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return domain.ErrCodeForbidden, err.Error()
	default:
		return domain.ErrCodeInternalError, "internal error"
	}
}
