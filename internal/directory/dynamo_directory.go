package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
)

// ItemGetter is the DynamoDB call the directory needs.
type ItemGetter interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type userItem struct {
	ID             string `dynamodbav:"id"`
	Username       string `dynamodbav:"username"`
	ProfilePicture string `dynamodbav:"profilePicture"`
}

type postItem struct {
	ID          string    `dynamodbav:"id"`
	UserID      string    `dynamodbav:"userId"`
	Description string    `dynamodbav:"description"`
	Likes       []string  `dynamodbav:"likes"`
	Comments    []string  `dynamodbav:"comments"`
	CreatedAt   time.Time `dynamodbav:"createdAt"`
}

// DynamoDirectory reads users and posts from DynamoDB tables keyed by "id".
type DynamoDirectory struct {
	client     ItemGetter
	usersTable string
	postsTable string
}

func NewDynamoDirectory(client ItemGetter, usersTable, postsTable string) *DynamoDirectory {
	return &DynamoDirectory{client: client, usersTable: usersTable, postsTable: postsTable}
}

func (d *DynamoDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var item userItem
	found, err := d.get(ctx, d.usersTable, userID, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrUserNotFound
	}
	return &domain.User{ID: item.ID, Username: item.Username, ProfilePicture: item.ProfilePicture}, nil
}

func (d *DynamoDirectory) GetPost(ctx context.Context, postID string) (*domain.Post, error) {
	var item postItem
	found, err := d.get(ctx, d.postsTable, postID, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrPostNotFound
	}
	return &domain.Post{
		ID:          item.ID,
		UserID:      item.UserID,
		Description: item.Description,
		Likes:       nonNil(item.Likes),
		Comments:    nonNil(item.Comments),
		CreatedAt:   item.CreatedAt,
	}, nil
}

func (d *DynamoDirectory) get(ctx context.Context, table, id string, out interface{}) (bool, error) {
	res, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item from table '%s': %w", table, err)
	}
	if res.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item from table '%s': %w", table, err)
	}
	return true, nil
}

var (
	_ UserDirectory = (*DynamoDirectory)(nil)
	_ PostDirectory = (*DynamoDirectory)(nil)
)
