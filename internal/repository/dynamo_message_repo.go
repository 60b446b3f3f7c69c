package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

type messageItem struct {
	PK             string             `dynamodbav:"pk"`
	SK             string             `dynamodbav:"sk"`
	ID             string             `dynamodbav:"id"`
	ConversationID string             `dynamodbav:"conversationId"`
	Sender         string             `dynamodbav:"sender"`
	Text           string             `dynamodbav:"text"`
	Reactions      []domain.Reaction  `dynamodbav:"reactions"`
	IsSharedPost   bool               `dynamodbav:"isSharedPost"`
	SharedPost     *domain.SharedPost `dynamodbav:"sharedPost,omitempty"`
	Version        int64              `dynamodbav:"version"`
	CreatedAt      time.Time          `dynamodbav:"createdAt"`
}

func newMessageItem(m *domain.Message) messageItem {
	reactions := m.Reactions
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	return messageItem{
		PK:             convPK(m.ConversationID),
		SK:             messageSK(m.CreatedAt, m.ID),
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		Reactions:      reactions,
		IsSharedPost:   m.IsSharedPost,
		SharedPost:     m.SharedPost,
		CreatedAt:      m.CreatedAt,
	}
}

func (it *messageItem) toDomain() *domain.Message {
	reactions := it.Reactions
	if reactions == nil {
		reactions = []domain.Reaction{}
	}
	return &domain.Message{
		ID:             it.ID,
		ConversationID: it.ConversationID,
		Sender:         it.Sender,
		Text:           it.Text,
		Reactions:      reactions,
		IsSharedPost:   it.IsSharedPost,
		SharedPost:     it.SharedPost,
		CreatedAt:      it.CreatedAt,
	}
}

// DynamoMessageRepository implements MessageRepository on the same table as
// DynamoConversationRepository. Each conversation's log lives under its
// partition, sorted by a fixed-width timestamp and the message id.
type DynamoMessageRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoMessageRepository(client DynamoAPI, table string) *DynamoMessageRepository {
	return &DynamoMessageRepository{client: client, table: table}
}

// Append advances the conversation's tailAt with a condition on its previous
// value, so concurrent appends to one conversation are serialized.
func (r *DynamoMessageRepository) Append(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Microsecond)
	candidate := m.CreatedAt

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		meta, err := getConversationMeta(ctx, r.client, r.table, m.ConversationID)
		if err != nil {
			return nil, err
		}

		var tail time.Time
		if meta.TailAt != "" {
			if tail, err = time.Parse(sortKeyTimeLayout, meta.TailAt); err != nil {
				return nil, fmt.Errorf("invalid tailAt %q: %w", meta.TailAt, err)
			}
		}
		m.CreatedAt = nextCreatedAt(candidate, tail)

		err = r.appendAt(ctx, m, meta.TailAt)
		if err == nil {
			return m, nil
		}
		if !isConditionFailure(err) {
			return nil, fmt.Errorf("failed to append message in table '%s': %w", r.table, err)
		}
	}
	return nil, ErrConcurrentUpdate
}

func (r *DynamoMessageRepository) appendAt(ctx context.Context, m *domain.Message, prevTail string) error {
	item, err := attributevalue.MarshalMap(newMessageItem(m))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	sk := messageSK(m.CreatedAt, m.ID)
	ptr, err := attributevalue.MarshalMap(pointerItem{
		PK:             msgPtrPK(m.ID),
		SK:             skMsgPtr,
		ConversationID: m.ConversationID,
		MessageSK:      sk,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message pointer: %w", err)
	}
	updatedAt, err := attributevalue.Marshal(m.CreatedAt)
	if err != nil {
		return err
	}

	condition := "attribute_exists(pk) AND attribute_not_exists(tailAt)"
	values := map[string]types.AttributeValue{
		":tail":    &types.AttributeValueMemberS{Value: m.CreatedAt.Format(sortKeyTimeLayout)},
		":updated": updatedAt,
	}
	if prevTail != "" {
		condition = "attribute_exists(pk) AND tailAt = :prev"
		values[":prev"] = &types.AttributeValueMemberS{Value: prevTail}
	}

	notExists := aws.String("attribute_not_exists(pk)")
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 aws.String(r.table),
				Key:                       itemKey(convPK(m.ConversationID), skMeta),
				UpdateExpression:          aws.String("SET tailAt = :tail, updatedAt = :updated"),
				ConditionExpression:       aws.String(condition),
				ExpressionAttributeValues: values,
			}},
			{Put: &types.Put{TableName: aws.String(r.table), Item: item, ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(r.table), Item: ptr, ConditionExpression: notExists}},
		},
	})
	return err
}

func (r *DynamoMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	item, err := r.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.toDomain(), nil
}

func (r *DynamoMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: msgPrefix},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	})

	out := []*domain.Message{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages: %w", err)
		}
		var items []messageItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		for i := range items {
			out = append(out, items[i].toDomain())
		}
	}
	return out, nil
}

// UpdateReactions replaces the reaction list with a condition on the item version.
func (r *DynamoMessageRepository) UpdateReactions(ctx context.Context, messageID string, mutate ReactionMutation) (*domain.Message, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		item, err := r.getItem(ctx, messageID)
		if err != nil {
			return nil, err
		}

		next := mutate(item.Reactions)
		if next == nil {
			next = []domain.Reaction{}
		}
		reactions, err := attributevalue.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal reactions: %w", err)
		}

		out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(r.table),
			Key:                 itemKey(item.PK, item.SK),
			UpdateExpression:    aws.String("SET reactions = :reactions, #version = :next"),
			ConditionExpression: aws.String("#version = :version"),
			ExpressionAttributeNames: map[string]string{
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":reactions": reactions,
				":version":   &types.AttributeValueMemberN{Value: strconv.FormatInt(item.Version, 10)},
				":next":      &types.AttributeValueMemberN{Value: strconv.FormatInt(item.Version+1, 10)},
			},
			ReturnValues: types.ReturnValueAllNew,
		})
		if err != nil {
			if isConditionFailure(err) {
				continue
			}
			return nil, fmt.Errorf("failed to update reactions in table '%s': %w", r.table, err)
		}

		var updated messageItem
		if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		return updated.toDomain(), nil
	}
	return nil, ErrConcurrentUpdate
}

// getItem resolves the message pointer and loads the log entry it names.
func (r *DynamoMessageRepository) getItem(ctx context.Context, id string) (*messageItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            itemKey(msgPtrPK(id), skMsgPtr),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message pointer from table '%s': %w", r.table, err)
	}
	if out.Item == nil {
		return nil, domain.ErrMessageNotFound
	}
	var ptr pointerItem
	if err := attributevalue.UnmarshalMap(out.Item, &ptr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message pointer: %w", err)
	}

	out, err = r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            itemKey(convPK(ptr.ConversationID), ptr.MessageSK),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message from table '%s': %w", r.table, err)
	}
	if out.Item == nil {
		return nil, domain.ErrMessageNotFound
	}
	var item messageItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &item, nil
}

var _ MessageRepository = (*DynamoMessageRepository)(nil)
