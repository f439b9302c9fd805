package exceptions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/types"
)

// DynamoDBAPI defines the DynamoDB operations used by the resolver
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Resolver looks up enforcement waivers in the exception store. It is
// read-only: the waiver management API owns writes.
type Resolver struct {
	client DynamoDBAPI
	table  string
	logger *telemetry.Logger
	now    func() time.Time
}

// NewResolver creates a resolver against the given exceptions table.
// An empty table name disables lookups entirely.
func NewResolver(client DynamoDBAPI, table string, logger *telemetry.Logger) *Resolver {
	return &Resolver{
		client: client,
		table:  table,
		logger: logger,
		now:    time.Now,
	}
}

// Lookup returns the exception waiving enforcement for this triple, or nil
// when none applies. Pending, rejected, and expired exceptions do not grant
// a waiver.
//
// A store error resolves to nil (fail-open toward enforcement): a waiver
// outage must not halt compliance processing, and every downstream action
// is idempotent. The error is logged and counted so the degradation is
// visible.
func (r *Resolver) Lookup(ctx context.Context, accountID, resourceID, ruleName string) (*types.ExceptionRecord, error) {
	if r.table == "" {
		return nil, nil
	}

	pk := fmt.Sprintf("EXCEPTION#%s#%s", accountID, resourceID)
	sk := fmt.Sprintf("RULE#%s", ruleName)

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]ddbtypes.AttributeValue{
			"pk": &ddbtypes.AttributeValueMemberS{Value: pk},
			"sk": &ddbtypes.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		if r.logger != nil {
			r.logger.LogStoreError(ctx, "exception_lookup", err)
		}
		if telemetry.ExceptionLookupErrors != nil {
			telemetry.ExceptionLookupErrors.Add(ctx, 1)
		}
		return nil, nil
	}

	if out.Item == nil {
		return nil, nil
	}

	exc := decodeException(out.Item, accountID, resourceID, ruleName)
	if !exc.Grants(r.now()) {
		return nil, nil
	}

	return exc, nil
}

func decodeException(item map[string]ddbtypes.AttributeValue, accountID, resourceID, ruleName string) *types.ExceptionRecord {
	exc := &types.ExceptionRecord{
		AccountID:  accountID,
		ResourceID: resourceID,
		RuleName:   ruleName,
	}

	exc.Status = stringAttr(item, "status")
	exc.Reason = stringAttr(item, "reason")
	exc.RequestedBy = stringAttr(item, "requested_by")
	exc.ApprovedBy = stringAttr(item, "approved_by")
	exc.ExpiresAt = numberAttr(item, "expires_at")
	exc.DurationDays = int(numberAttr(item, "duration_days"))

	return exc
}

func stringAttr(item map[string]ddbtypes.AttributeValue, name string) string {
	if av, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return av.Value
	}
	return ""
}

func numberAttr(item map[string]ddbtypes.AttributeValue, name string) int64 {
	if av, ok := item[name].(*ddbtypes.AttributeValueMemberN); ok {
		n, err := strconv.ParseInt(av.Value, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}
