package remediation

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/valvo/types"
)

// STSAPI defines the STS operations used for cross-account credential
// acquisition
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// S3API defines the S3 operations used by the action catalog
type S3API interface {
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
}

// EC2API defines the EC2 operations used by the action catalog
type EC2API interface {
	DescribeTags(ctx context.Context, params *ec2.DescribeTagsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeTagsOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
}

// LambdaAPI defines the Lambda operations used by the action catalog
type LambdaAPI interface {
	ListTags(ctx context.Context, params *lambda.ListTagsInput, optFns ...func(*lambda.Options)) (*lambda.ListTagsOutput, error)
	TagResource(ctx context.Context, params *lambda.TagResourceInput, optFns ...func(*lambda.Options)) (*lambda.TagResourceOutput, error)
}

// Clients is the set of scoped service clients built from one assumed-role
// credential. A set lives for exactly one invocation's action and is
// discarded afterwards.
type Clients struct {
	S3     S3API
	EC2    EC2API
	Lambda LambdaAPI
}

// ClientFactory builds a client set in the target account from short-lived
// credentials. Tests substitute a factory returning mocks.
type ClientFactory func(ctx context.Context, creds Credentials, region string) (*Clients, error)

// Notifier escalates a violation to the notification collaborator. The
// engine uses it for safety-blocked remediations.
type Notifier interface {
	Notify(ctx context.Context, record *types.ViolationRecord) error
}
