package remediation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/valvo/types"
)

// applyDefaultTags merges the environment's default tag set onto a
// resource. Existing tag keys are never overwritten, so the merge
// converges under retries. Dispatch is on the closed resource-kind set;
// unsupported kinds are skipped, not errors.
func (e *Engine) applyDefaultTags(ctx context.Context, clients *Clients, record *types.ViolationRecord, tags map[string]string) error {
	switch types.KindOf(record.ResourceType) {
	case types.ResourceKindEC2Instance:
		return tagEC2Instance(ctx, clients.EC2, record.ResourceID, tags)
	case types.ResourceKindS3Bucket:
		return tagS3Bucket(ctx, clients.S3, record.ResourceID, tags)
	case types.ResourceKindLambdaFunction:
		return tagLambdaFunction(ctx, clients.Lambda, record, tags)
	default:
		if e.logger != nil {
			e.logger.WithContext(ctx).Warn().
				Str("resource_type", record.ResourceType).
				Str("resource_id", record.ResourceID).
				Msg("tag remediation not implemented for resource type, skipping")
		}
		return nil
	}
}

// tagEC2Instance list-merges: only keys the instance does not already
// carry are created
func tagEC2Instance(ctx context.Context, client EC2API, instanceID string, tags map[string]string) error {
	out, err := client.DescribeTags(ctx, &ec2.DescribeTagsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("resource-id"), Values: []string{instanceID}},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: describe tags on %s: %v", ErrAction, instanceID, err)
	}

	existing := make(map[string]bool, len(out.Tags))
	for _, tag := range out.Tags {
		existing[aws.ToString(tag.Key)] = true
	}

	var missing []ec2types.Tag
	for key, value := range tags {
		if !existing[key] {
			missing = append(missing, ec2types.Tag{Key: aws.String(key), Value: aws.String(value)})
		}
	}

	if len(missing) == 0 {
		return nil
	}

	_, err = client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      missing,
	})
	if err != nil {
		return fmt.Errorf("%w: create tags on %s: %v", ErrAction, instanceID, err)
	}

	return nil
}

// tagS3Bucket does a read-modify-write: bucket tagging replaces the whole
// set, so existing tags must be fetched first and carried over
func tagS3Bucket(ctx context.Context, client S3API, bucket string, tags map[string]string) error {
	var current []s3types.Tag

	out, err := client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		if !isNoSuchTagSet(err) {
			return fmt.Errorf("%w: get bucket tagging on %s: %v", ErrAction, bucket, err)
		}
	} else {
		current = out.TagSet
	}

	existing := make(map[string]bool, len(current))
	for _, tag := range current {
		existing[aws.ToString(tag.Key)] = true
	}

	merged := current
	for key, value := range tags {
		if !existing[key] {
			merged = append(merged, s3types.Tag{Key: aws.String(key), Value: aws.String(value)})
		}
	}

	if len(merged) == len(current) {
		return nil
	}

	_, err = client.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(bucket),
		Tagging: &s3types.Tagging{TagSet: merged},
	})
	if err != nil {
		return fmt.Errorf("%w: put bucket tagging on %s: %v", ErrAction, bucket, err)
	}

	return nil
}

// tagLambdaFunction dictionary-merges via TagResource, filtered to keys
// the function does not already carry so nothing is overwritten
func tagLambdaFunction(ctx context.Context, client LambdaAPI, record *types.ViolationRecord, tags map[string]string) error {
	arn := fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", record.Region, record.AccountID, record.ResourceID)

	out, err := client.ListTags(ctx, &lambda.ListTagsInput{Resource: aws.String(arn)})
	if err != nil {
		return fmt.Errorf("%w: list tags on %s: %v", ErrAction, arn, err)
	}

	missing := make(map[string]string)
	for key, value := range tags {
		if _, ok := out.Tags[key]; !ok {
			missing[key] = value
		}
	}

	if len(missing) == 0 {
		return nil
	}

	_, err = client.TagResource(ctx, &lambda.TagResourceInput{
		Resource: aws.String(arn),
		Tags:     missing,
	})
	if err != nil {
		return fmt.Errorf("%w: tag resource %s: %v", ErrAction, arn, err)
	}

	return nil
}

func isNoSuchTagSet(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchTagSet"
}
