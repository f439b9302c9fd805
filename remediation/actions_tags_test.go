package remediation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/valvo/types"
)

type mockS3Client struct {
	PutPublicAccessBlockFunc func(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	GetBucketTaggingFunc     func(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	PutBucketTaggingFunc     func(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
}

func (m *mockS3Client) PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
	return m.PutPublicAccessBlockFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return m.GetBucketTaggingFunc(ctx, params, optFns...)
}

func (m *mockS3Client) PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	return m.PutBucketTaggingFunc(ctx, params, optFns...)
}

type mockLambdaClient struct {
	ListTagsFunc    func(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error)
	TagResourceFunc func(ctx context.Context, params *lambda.TagResourceInput, optFns ...func(*lambda.Options)) (*lambda.TagResourceOutput, error)
}

func (m *mockLambdaClient) ListTags(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error) {
	return m.ListTagsFunc(ctx, params, optFns...)
}

func (m *mockLambdaClient) TagResource(ctx context.Context, params *lambda.TagResourceInput, optFns ...func(*lambda.Options)) (*lambda.TagResourceOutput, error) {
	return m.TagResourceFunc(ctx, params, optFns...)
}

var devTags = map[string]string{
	"Owner":       "PlatformOps",
	"CostCenter":  "0000",
	"Environment": "Development",
}

func TestTagEC2InstancePreservesExistingKeys(t *testing.T) {
	var created *ec2.CreateTagsInput
	mock := &mockEC2Client{
		DescribeTagsFunc: func(_ context.Context, params *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
			require.Len(t, params.Filters, 1)
			assert.Equal(t, []string{"i-0abc"}, params.Filters[0].Values)
			return &ec2.DescribeTagsOutput{
				Tags: []ec2types.TagDescription{
					{Key: aws.String("Owner"), Value: aws.String("team-data")},
				},
			}, nil
		},
		CreateTagsFunc: func(_ context.Context, params *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			created = params
			return &ec2.CreateTagsOutput{}, nil
		},
	}

	err := tagEC2Instance(context.Background(), mock, "i-0abc", devTags)

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, []string{"i-0abc"}, created.Resources)

	keys := make(map[string]string)
	for _, tag := range created.Tags {
		keys[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	assert.NotContains(t, keys, "Owner", "existing Owner tag must not be overwritten")
	assert.Equal(t, "0000", keys["CostCenter"])
	assert.Equal(t, "Development", keys["Environment"])
}

func TestTagEC2InstanceAllPresentIsNoop(t *testing.T) {
	mock := &mockEC2Client{
		DescribeTagsFunc: func(_ context.Context, _ *ec2.DescribeTagsInput, _ ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error) {
			return &ec2.DescribeTagsOutput{
				Tags: []ec2types.TagDescription{
					{Key: aws.String("Owner")},
					{Key: aws.String("CostCenter")},
					{Key: aws.String("Environment")},
				},
			}, nil
		},
		CreateTagsFunc: func(_ context.Context, _ *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
			t.Fatal("CreateTags must not be called when nothing is missing")
			return nil, nil
		},
	}

	err := tagEC2Instance(context.Background(), mock, "i-0abc", devTags)

	require.NoError(t, err)
}

func TestTagS3BucketReadModifyWrite(t *testing.T) {
	var put *s3.PutBucketTaggingInput
	mock := &mockS3Client{
		GetBucketTaggingFunc: func(_ context.Context, _ *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
			return &s3.GetBucketTaggingOutput{
				TagSet: []s3types.Tag{
					{Key: aws.String("Owner"), Value: aws.String("team-data")},
				},
			}, nil
		},
		PutBucketTaggingFunc: func(_ context.Context, params *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
			put = params
			return &s3.PutBucketTaggingOutput{}, nil
		},
	}

	err := tagS3Bucket(context.Background(), mock, "my-bucket", devTags)

	require.NoError(t, err)
	require.NotNil(t, put)

	got := make(map[string]string)
	for _, tag := range put.Tagging.TagSet {
		got[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, "team-data", got["Owner"], "existing value preserved in the full replace")
	assert.Equal(t, "0000", got["CostCenter"])
	assert.Equal(t, "Development", got["Environment"])
}

func TestTagS3BucketNoExistingTagSet(t *testing.T) {
	var put *s3.PutBucketTaggingInput
	mock := &mockS3Client{
		GetBucketTaggingFunc: func(_ context.Context, _ *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchTagSet"}
		},
		PutBucketTaggingFunc: func(_ context.Context, params *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
			put = params
			return &s3.PutBucketTaggingOutput{}, nil
		},
	}

	err := tagS3Bucket(context.Background(), mock, "my-bucket", devTags)

	require.NoError(t, err)
	require.NotNil(t, put)
	assert.Len(t, put.Tagging.TagSet, len(devTags))
}

func TestTagS3BucketOtherErrorPropagates(t *testing.T) {
	mock := &mockS3Client{
		GetBucketTaggingFunc: func(_ context.Context, _ *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	err := tagS3Bucket(context.Background(), mock, "my-bucket", devTags)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAction)
}

func TestTagLambdaFunctionDictionaryMerge(t *testing.T) {
	var tagged *lambda.TagResourceInput
	mock := &mockLambdaClient{
		ListTagsFunc: func(_ context.Context, params *lambda.ListTagsInput, _ ...func(*lambda.Options)) (*lambda.ListTagsOutput, error) {
			assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:my-fn", *params.Resource)
			return &lambda.ListTagsOutput{Tags: map[string]string{"Owner": "team-data"}}, nil
		},
		TagResourceFunc: func(_ context.Context, params *lambda.TagResourceInput, _ ...func(*lambda.Options)) (*lambda.TagResourceOutput, error) {
			tagged = params
			return &lambda.TagResourceOutput{}, nil
		},
	}

	record := &types.ViolationRecord{
		AccountID:    "123456789012",
		Region:       "us-east-1",
		ResourceID:   "my-fn",
		ResourceType: "AWS::Lambda::Function",
	}

	err := tagLambdaFunction(context.Background(), mock, record, devTags)

	require.NoError(t, err)
	require.NotNil(t, tagged)
	assert.NotContains(t, tagged.Tags, "Owner")
	assert.Equal(t, "0000", tagged.Tags["CostCenter"])
}

func TestApplyDefaultTagsUnsupportedKindSkips(t *testing.T) {
	e := &Engine{tagSets: map[string]map[string]string{"default": devTags}}
	record := &types.ViolationRecord{
		AccountID:    "123456789012",
		Region:       "us-east-1",
		ResourceID:   "my-table",
		ResourceType: "AWS::DynamoDB::Table",
	}

	// No clients needed: unsupported kinds must short-circuit
	err := e.applyDefaultTags(context.Background(), &Clients{}, record, devTags)

	require.NoError(t, err, "unsupported resource types are skipped, not errors")
}
