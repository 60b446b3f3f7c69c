package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/weiawesome/wes-io-live/dm-service/internal/audit"
	"github.com/weiawesome/wes-io-live/dm-service/internal/directory"
	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/lock"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/internal/repository"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

const defaultConversationCacheSize = 4096

var errPairMismatch = errors.New("stored conversation does not match the requested pair")

// conversationService caches conversations by pair key and id. Conversations
// are never deleted and their members never change, so entries stay valid;
// only UpdatedAt may lag behind the store.
type conversationService struct {
	repo   repository.ConversationRepository
	users  directory.UserDirectory
	locker lock.Locker
	cache  *lru.Cache
	now    func() time.Time
}

func NewConversationService(
	repo repository.ConversationRepository,
	users directory.UserDirectory,
	locker lock.Locker,
	cacheSize int,
) (ConversationService, error) {
	if cacheSize <= 0 {
		cacheSize = defaultConversationCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation cache: %w", err)
	}
	return &conversationService{
		repo:   repo,
		users:  users,
		locker: locker,
		cache:  cache,
		now:    time.Now,
	}, nil
}

func pairCacheKey(pairKey string) string { return "pair:" + pairKey }
func idCacheKey(id string) string { return "id:" + id }

func (s *conversationService) remember(c *domain.Conversation) {
	s.cache.Add(pairCacheKey(c.PairKey), c)
	s.cache.Add(idCacheKey(c.ID), c)
}

func (s *conversationService) cached(key string) (*domain.Conversation, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*domain.Conversation), true
}

// validatePair normalizes the pair and checks the actor belongs to it.
func validatePair(actorID, userA, userB string) (string, string, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" {
		return "", "", domain.ValidationError("senderId", "is required")
	}
	if userB == "" {
		return "", "", domain.ValidationError("receiverId", "is required")
	}
	if userA == userB {
		return "", "", domain.ErrSelfConversation
	}
	if actorID != userA && actorID != userB {
		return "", "", fmt.Errorf("%w: caller is not part of the pair", domain.ErrForbidden)
	}
	return userA, userB, nil
}

func (s *conversationService) FindOrCreate(ctx context.Context, actorID, userA, userB string) (*domain.Conversation, error) {
	userA, userB, err := validatePair(actorID, userA, userB)
	if err != nil {
		return nil, err
	}

	pairKey := domain.PairKey(userA, userB)
	if c, ok := s.cached(pairCacheKey(pairKey)); ok && c.IsPair(userA, userB) {
		return c, nil
	}

	existing, err := s.lookup(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	other := userB
	if actorID == userB {
		other = userA
	}
	if _, err := s.users.GetUser(ctx, other); err != nil {
		return nil, err
	}

	var result *domain.Conversation
	err = s.locker.WithLock(ctx, "pair:"+pairKey, func() error {
		// Another caller may have created it while we waited for the lock.
		existing, err := s.lookup(ctx, userA, userB)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		now := s.now().UTC().Truncate(time.Microsecond)
		conv := &domain.Conversation{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Members:   []string{userA, userB},
			PairKey:   pairKey,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.repo.Create(ctx, conv)
		if errors.Is(err, repository.ErrConversationExists) {
			// Lost the race to an instance that does not share our lock.
			metrics.ConversationConflicts.Inc()
			l := log.Ctx(ctx)
			l.Info().Str("pair_key", pairKey).Msg("conversation already exists, re-fetching")
			result, err = s.lookup(ctx, userA, userB)
			if err == nil && result == nil {
				err = fmt.Errorf("conversation %s vanished after conflict", pairKey)
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}

		metrics.ConversationsCreated.Inc()
		audit.LogTarget(ctx, audit.ActionCreateConversation, actorID, conv.ID, "conversation created")
		result = conv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.remember(result)
	return result, nil
}

func (s *conversationService) Find(ctx context.Context, actorID, userA, userB string) (*domain.Conversation, error) {
	userA, userB, err := validatePair(actorID, userA, userB)
	if err != nil {
		return nil, err
	}

	if c, ok := s.cached(pairCacheKey(domain.PairKey(userA, userB))); ok && c.IsPair(userA, userB) {
		return c, nil
	}
	existing, err := s.lookup(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrConversationNotFound
	}
	return existing, nil
}

// lookup returns the stored conversation of the pair, or nil if there is none.
// A stored conversation whose members differ from the pair is an error.
func (s *conversationService) lookup(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	c, err := s.repo.GetByPairKey(ctx, domain.PairKey(userA, userB))
	if errors.Is(err, domain.ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up conversation: %w", err)
	}
	if !c.IsPair(userA, userB) {
		return nil, fmt.Errorf("%w: %v", errPairMismatch, c.Members)
	}
	s.remember(c)
	return c, nil
}

func (s *conversationService) List(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ValidationError("userId", "is required")
	}
	convs, err := s.repo.ListByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *conversationService) Get(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, domain.ValidationError("conversationId", "is required")
	}
	if c, ok := s.cached(idCacheKey(conversationID)); ok {
		return c, nil
	}
	c, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	s.remember(c)
	return c, nil
}

func (s *conversationService) RequireMember(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	c, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(userID) {
		return nil, domain.ErrNotMember
	}
	return c, nil
}
