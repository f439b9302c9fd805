package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
)

// RetentionHorizon bounds how long history records live before DynamoDB
// prunes them
const RetentionHorizon = 2 * 365 * 24 * time.Hour

// DynamoDBAPI defines the DynamoDB operations used by the recorder
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Recorder persists violation records to the audit history table.
// Writes are conditional on the composite key not existing, which makes
// re-delivery of the same event a no-op instead of an overwrite: the
// history is append-only.
type Recorder struct {
	client DynamoDBAPI
	table  string
	logger *telemetry.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder against the given history table
func NewRecorder(client DynamoDBAPI, table string, logger *telemetry.Logger) *Recorder {
	return &Recorder{
		client: client,
		table:  table,
		logger: logger,
		now:    time.Now,
	}
}

// Record writes one violation record. It returns alreadyRecorded=true when
// the key collided with an existing record; that is a success under
// at-least-once delivery, not an error.
func (r *Recorder) Record(ctx context.Context, record *types.ViolationRecord) (alreadyRecorded bool, err error) {
	pk := fmt.Sprintf("ACCOUNT#%s#RESOURCE#%s", record.AccountID, record.ResourceID)
	sk := fmt.Sprintf("TIMESTAMP#%s", record.Timestamp)

	item := r.buildItem(pk, sk, record)

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var conditionFailed *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			if r.logger != nil {
				r.logger.WithContext(ctx).Info().
					Str("pk", pk).
					Str("event_id", record.EventID).
					Msg("record already exists, idempotent replay")
			}
			return true, nil
		}
		return false, fmt.Errorf("failed to persist violation record: %w", err)
	}

	if telemetry.ViolationsRecorded != nil {
		telemetry.ViolationsRecorded.Add(ctx, 1)
	}

	return false, nil
}

func (r *Recorder) buildItem(pk, sk string, record *types.ViolationRecord) map[string]ddbtypes.AttributeValue {
	now := r.now().UTC()
	ttl := now.Add(RetentionHorizon).Unix()

	severity := string(record.Severity)
	if severity == "" {
		severity = "UNKNOWN"
	}

	item := map[string]ddbtypes.AttributeValue{
		"pk":              &ddbtypes.AttributeValueMemberS{Value: pk},
		"sk":              &ddbtypes.AttributeValueMemberS{Value: sk},
		"account_id":      &ddbtypes.AttributeValueMemberS{Value: record.AccountID},
		"region":          &ddbtypes.AttributeValueMemberS{Value: record.Region},
		"resource_id":     &ddbtypes.AttributeValueMemberS{Value: record.ResourceID},
		"resource_type":   &ddbtypes.AttributeValueMemberS{Value: record.ResourceType},
		"rule_name":       &ddbtypes.AttributeValueMemberS{Value: record.RuleName},
		"compliance_type": &ddbtypes.AttributeValueMemberS{Value: record.ComplianceState},
		"severity":        &ddbtypes.AttributeValueMemberS{Value: severity},
		"annotation":      &ddbtypes.AttributeValueMemberS{Value: record.Annotation},
		"event_id":        &ddbtypes.AttributeValueMemberS{Value: record.EventID},
		"processed_at":    &ddbtypes.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ttl":             &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}

	if record.ExceptionApplied {
		item["exception_applied"] = &ddbtypes.AttributeValueMemberBOOL{Value: true}
		item["exception_reason"] = &ddbtypes.AttributeValueMemberS{Value: record.ExceptionReason}
	}

	return item
}
