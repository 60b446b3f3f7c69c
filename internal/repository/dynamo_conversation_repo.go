package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// batchGetLimit is the DynamoDB BatchGetItem key limit.
const batchGetLimit = 100

type conversationItem struct {
	PK        string    `dynamodbav:"pk"`
	SK        string    `dynamodbav:"sk"`
	ID        string    `dynamodbav:"id"`
	PairKey   string    `dynamodbav:"pairKey"`
	Members   []string  `dynamodbav:"members"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updatedAt"`
	TailAt    string    `dynamodbav:"tailAt,omitempty"`
}

type pointerItem struct {
	PK             string `dynamodbav:"pk"`
	SK             string `dynamodbav:"sk"`
	ConversationID string `dynamodbav:"conversationId"`
	MessageSK      string `dynamodbav:"messageSk,omitempty"`
}

func (it *conversationItem) toDomain() *domain.Conversation {
	return &domain.Conversation{
		ID:        it.ID,
		Members:   it.Members,
		PairKey:   it.PairKey,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
}

// DynamoConversationRepository implements ConversationRepository on a single DynamoDB table.
type DynamoConversationRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoConversationRepository(client DynamoAPI, table string) *DynamoConversationRepository {
	return &DynamoConversationRepository{client: client, table: table}
}

// Create writes the pair pointer, the conversation record and both membership
// items in one transaction. The pair pointer is conditional on absence.
func (r *DynamoConversationRepository) Create(ctx context.Context, c *domain.Conversation) error {
	meta, err := attributevalue.MarshalMap(conversationItem{
		PK:        convPK(c.ID),
		SK:        skMeta,
		ID:        c.ID,
		PairKey:   c.PairKey,
		Members:   c.Members,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	pair, err := attributevalue.MarshalMap(pointerItem{
		PK:             pairPK(c.PairKey),
		SK:             skPair,
		ConversationID: c.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pair pointer: %w", err)
	}

	notExists := aws.String("attribute_not_exists(pk)")
	items := []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(r.table), Item: pair, ConditionExpression: notExists}},
		{Put: &types.Put{TableName: aws.String(r.table), Item: meta, ConditionExpression: notExists}},
	}
	for _, member := range c.Members {
		membership, err := attributevalue.MarshalMap(pointerItem{
			PK:             userPK(member),
			SK:             membershipSK(c.ID),
			ConversationID: c.ID,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal membership: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(r.table), Item: membership},
		})
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return ErrConversationExists
		}
		return fmt.Errorf("failed to create conversation in table '%s': %w", r.table, err)
	}
	return nil
}

func (r *DynamoConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	item, err := r.getMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.toDomain(), nil
}

func (r *DynamoConversationRepository) GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            itemKey(pairPK(pairKey), skPair),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pair pointer from table '%s': %w", r.table, err)
	}
	if out.Item == nil {
		return nil, domain.ErrConversationNotFound
	}

	var ptr pointerItem
	if err := attributevalue.UnmarshalMap(out.Item, &ptr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pair pointer: %w", err)
	}
	return r.GetByID(ctx, ptr.ConversationID)
}

// ListByMember reads the membership items, then batch-loads the conversation records.
func (r *DynamoConversationRepository) ListByMember(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: "CONV#"},
		},
	})

	var ids []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query memberships: %w", err)
		}
		var ptrs []pointerItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &ptrs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memberships: %w", err)
		}
		for _, p := range ptrs {
			ids = append(ids, p.ConversationID)
		}
	}

	out := make([]*domain.Conversation, 0, len(ids))
	for start := 0; start < len(ids); start += batchGetLimit {
		end := start + batchGetLimit
		if end > len(ids) {
			end = len(ids)
		}
		items, err := r.batchGetMeta(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for i := range items {
			out = append(out, items[i].toDomain())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *DynamoConversationRepository) getMeta(ctx context.Context, id string) (*conversationItem, error) {
	return getConversationMeta(ctx, r.client, r.table, id)
}

func getConversationMeta(ctx context.Context, client DynamoAPI, table, id string) (*conversationItem, error) {
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            itemKey(convPK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation from table '%s': %w", table, err)
	}
	if out.Item == nil {
		return nil, domain.ErrConversationNotFound
	}

	var item conversationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &item, nil
}

func (r *DynamoConversationRepository) batchGetMeta(ctx context.Context, ids []string) ([]conversationItem, error) {
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, itemKey(convPK(id), skMeta))
	}

	request := map[string]types.KeysAndAttributes{
		r.table: {Keys: keys, ConsistentRead: aws.Bool(true)},
	}
	var items []conversationItem
	for len(request) > 0 {
		out, err := r.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
		if err != nil {
			return nil, fmt.Errorf("failed to batch get conversations: %w", err)
		}
		var page []conversationItem
		if err := attributevalue.UnmarshalListOfMaps(out.Responses[r.table], &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversations: %w", err)
		}
		items = append(items, page...)
		request = out.UnprocessedKeys
	}
	return items, nil
}

var _ ConversationRepository = (*DynamoConversationRepository)(nil)
