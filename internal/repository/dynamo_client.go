package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/weiawesome/wes-io-live/dm-service/internal/config"
)

// DynamoAPI is the subset of the DynamoDB client used by the repositories.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// NewDynamoClient builds a DynamoDB client from the default AWS credential chain,
// or from static keys when both are configured. A non-empty endpoint points
// the client at a local emulator.
func NewDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Single-table key layout:
//
//	PAIR#<pairKey>   PAIR            pair pointer -> conversation id
//	CONV#<id>        META            conversation record (tailAt, updatedAt)
//	CONV#<id>        MSG#<ts>#<id>   message log entry
//	USER#<userId>    CONV#<id>       membership
//	MSG#<id>         MSG             message pointer -> log entry key
const (
	attrPK = "pk"
	attrSK = "sk"

	skMeta    = "META"
	skPair    = "PAIR"
	skMsgPtr  = "MSG"
	msgPrefix = "MSG#"

	// Fixed width so that lexical order of sort keys equals time order.
	sortKeyTimeLayout = "2006-01-02T15:04:05.000000Z"
)

func pairPK(pairKey string) string { return "PAIR#" + pairKey }
func convPK(id string) string { return "CONV#" + id }
func userPK(userID string) string { return "USER#" + userID }
func msgPtrPK(id string) string { return msgPrefix + id }
func membershipSK(id string) string { return "CONV#" + id }

func messageSK(createdAt time.Time, id string) string {
	return msgPrefix + createdAt.UTC().Format(sortKeyTimeLayout) + "#" + id
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// isConditionFailure reports whether err is a failed condition expression,
// either directly or as the reason a transaction was cancelled.
func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
