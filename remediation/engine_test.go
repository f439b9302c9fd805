package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/valvo/config"
	"github.com/yairfalse/valvo/types"
)

type fakeBroker struct {
	assumed []string
	err     error
}

func (b *fakeBroker) Assume(_ context.Context, accountID string) (Credentials, error) {
	if b.err != nil {
		return Credentials{}, b.err
	}
	b.assumed = append(b.assumed, accountID)
	return Credentials{AccessKeyID: "ASIA123", SecretAccessKey: "secret", SessionToken: "token"}, nil
}

type fakeNotifier struct {
	notified []*types.ViolationRecord
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, record *types.ViolationRecord) error {
	if n.err != nil {
		return n.err
	}
	n.notified = append(n.notified, record)
	return nil
}

func staticFactory(clients *Clients) ClientFactory {
	return func(_ context.Context, _ Credentials, _ string) (*Clients, error) {
		return clients, nil
	}
}

func newTestEngine(broker Broker, clients *Clients, notifier Notifier) *Engine {
	environments := NewEnvironmentResolver(testAccounts(), "")
	return NewEngine(broker, staticFactory(clients), notifier, environments, config.DefaultTagSets(), nil, nil)
}

func violation(rule, resourceID, resourceType, accountID string) *types.ViolationRecord {
	return &types.ViolationRecord{
		AccountID:       accountID,
		Region:          "us-east-1",
		ResourceID:      resourceID,
		ResourceType:    resourceType,
		RuleName:        rule,
		ComplianceState: types.StateNonCompliant,
		EventID:         "event-1",
		Timestamp:       "2024-06-01T12:00:00Z",
		Severity:        types.SeverityLow,
	}
}

func TestRemediateBlocksGuardedRuleInProduction(t *testing.T) {
	broker := &fakeBroker{}
	notifier := &fakeNotifier{}
	e := newTestEngine(broker, &Clients{}, notifier)

	result, err := e.Remediate(context.Background(),
		violation("restricted-ssh", "sg-0123", "AWS::EC2::SecurityGroup", "333333333333"))

	require.NoError(t, err, "a safety veto is the intended outcome, not a failure")
	assert.Empty(t, broker.assumed, "no credentials acquired for a vetoed action")
	require.Len(t, notifier.notified, 1)
	assert.Equal(t, types.SeverityHigh, notifier.notified[0].Severity)
	assert.Contains(t, notifier.notified[0].Annotation, "blocked in production")
	assert.Equal(t, types.StatusProcessed, result.Status)
	assert.Equal(t, types.ActionNotify, result.Action)
	assert.Equal(t, "prod", result.Environment)
}

func TestRemediateBlockedNotifyFailurePropagates(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("queue unreachable")}
	e := newTestEngine(&fakeBroker{}, &Clients{}, notifier)

	_, err := e.Remediate(context.Background(),
		violation("restricted-rdp", "sg-0123", "AWS::EC2::SecurityGroup", "333333333333"))

	require.Error(t, err)
}

func TestRemediateBlockPublicAccess(t *testing.T) {
	var blocked string
	s3mock := &mockS3Client{
		PutPublicAccessBlockFunc: func(_ context.Context, params *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
			blocked = *params.Bucket
			cfg := params.PublicAccessBlockConfiguration
			assert.True(t, *cfg.BlockPublicAcls)
			assert.True(t, *cfg.IgnorePublicAcls)
			assert.True(t, *cfg.BlockPublicPolicy)
			assert.True(t, *cfg.RestrictPublicBuckets)
			return &s3.PutPublicAccessBlockOutput{}, nil
		},
	}

	broker := &fakeBroker{}
	e := newTestEngine(broker, &Clients{S3: s3mock}, &fakeNotifier{})

	result, err := e.Remediate(context.Background(),
		violation("s3-bucket-public-read-prohibited", "my-bucket", "AWS::S3::Bucket", "111111111111"))

	require.NoError(t, err)
	assert.Equal(t, "my-bucket", blocked)
	assert.Equal(t, []string{"111111111111"}, broker.assumed)
	assert.Equal(t, types.StatusProcessed, result.Status)
	assert.Equal(t, types.ActionAutoRemediate, result.Action)
	assert.Equal(t, "dev", result.Environment)
}

func TestRemediatePublicWriteAliasesPublicRead(t *testing.T) {
	called := false
	s3mock := &mockS3Client{
		PutPublicAccessBlockFunc: func(_ context.Context, _ *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
			called = true
			return &s3.PutPublicAccessBlockOutput{}, nil
		},
	}

	e := newTestEngine(&fakeBroker{}, &Clients{S3: s3mock}, &fakeNotifier{})

	_, err := e.Remediate(context.Background(),
		violation("s3-bucket-public-write-prohibited", "my-bucket", "AWS::S3::Bucket", "111111111111"))

	require.NoError(t, err)
	assert.True(t, called)
}

func TestRemediateUnknownRuleIsNoop(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(broker, &Clients{}, &fakeNotifier{})

	result, err := e.Remediate(context.Background(),
		violation("some-future-rule", "resource-1", "AWS::Something::New", "111111111111"))

	require.NoError(t, err, "no remediation defined is an expected outcome")
	assert.Equal(t, types.StatusSkipped, result.Status)
	assert.Contains(t, result.Message, "no remediation defined")
	assert.Equal(t, types.ActionNone, result.Action)
}

func TestRemediateCredentialFailureIsFatal(t *testing.T) {
	broker := &fakeBroker{err: ErrCredential}
	e := newTestEngine(broker, &Clients{}, &fakeNotifier{})

	_, err := e.Remediate(context.Background(),
		violation("s3-bucket-public-read-prohibited", "my-bucket", "AWS::S3::Bucket", "111111111111"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredential)
}

func TestRemediateActionErrorPropagates(t *testing.T) {
	s3mock := &mockS3Client{
		PutPublicAccessBlockFunc: func(_ context.Context, _ *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
			return nil, errors.New("bucket gone")
		},
	}

	e := newTestEngine(&fakeBroker{}, &Clients{S3: s3mock}, &fakeNotifier{})

	_, err := e.Remediate(context.Background(),
		violation("s3-bucket-public-read-prohibited", "my-bucket", "AWS::S3::Bucket", "111111111111"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAction)
}

func TestRemediateDevTagSetForDevAccount(t *testing.T) {
	created := make(map[string]string)
	ec2mock := &mockEC2Client{
		DescribeTagsFunc: func(_ context.Context, _ *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
			return &ec2.DescribeTagsOutput{
				Tags: []ec2types.TagDescription{
					{Key: aws.String("Name"), Value: aws.String("build-box")},
				},
			}, nil
		},
		CreateTagsFunc: func(_ context.Context, params *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			for _, tag := range params.Tags {
				created[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}
			return &ec2.CreateTagsOutput{}, nil
		},
	}

	e := newTestEngine(&fakeBroker{}, &Clients{EC2: ec2mock}, &fakeNotifier{})

	result, err := e.Remediate(context.Background(),
		violation("required-tags", "i-0abc", "AWS::EC2::Instance", "111111111111"))

	require.NoError(t, err)
	assert.Equal(t, "dev", result.Environment)
	assert.Equal(t, "Development", created["Environment"], "dev account gets the dev tag set")
	assert.NotContains(t, created, "Name", "existing keys preserved")
}

func TestHandleInvocationValidPayload(t *testing.T) {
	s3mock := &mockS3Client{
		PutPublicAccessBlockFunc: func(_ context.Context, _ *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
			return &s3.PutPublicAccessBlockOutput{}, nil
		},
	}
	e := newTestEngine(&fakeBroker{}, &Clients{S3: s3mock}, &fakeNotifier{})

	payload, err := json.Marshal(types.RemediationRequest{
		Action:         types.RequestRemediate,
		ComplianceData: *violation("s3-bucket-public-read-prohibited", "my-bucket", "AWS::S3::Bucket", "111111111111"),
	})
	require.NoError(t, err)

	result, err := e.HandleInvocation(context.Background(), payload)

	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessed, result.Status)
}

func TestHandleInvocationUnknownAction(t *testing.T) {
	e := newTestEngine(&fakeBroker{}, &Clients{}, &fakeNotifier{})

	_, err := e.HandleInvocation(context.Background(), []byte(`{"action":"scale_down"}`))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestHandleInvocationMissingFields(t *testing.T) {
	e := newTestEngine(&fakeBroker{}, &Clients{}, &fakeNotifier{})

	_, err := e.HandleInvocation(context.Background(),
		[]byte(`{"action":"remediate","compliance_data":{"account_id":"123456789012"}}`))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
