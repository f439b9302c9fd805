package remediation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ErrCredential marks a failed cross-account credential acquisition.
// It is fatal for the invocation: no partial remediation happens without
// valid credentials.
var ErrCredential = errors.New("credential acquisition failed")

// Credentials is one short-lived credential set for a target account
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

const sessionName = "GovernanceRemediationEngine"

// CredentialBroker exchanges the engine's identity for a narrowly scoped
// credential in a target account. The role name is fixed and the external
// ID is pre-shared, which blocks confused-deputy cross-account assumption.
type CredentialBroker struct {
	client     STSAPI
	roleName   string
	externalID string
}

// NewCredentialBroker creates a broker bound to the remediation role
func NewCredentialBroker(client STSAPI, roleName, externalID string) *CredentialBroker {
	return &CredentialBroker{
		client:     client,
		roleName:   roleName,
		externalID: externalID,
	}
}

// Assume acquires a credential set in the target account
func (b *CredentialBroker) Assume(ctx context.Context, accountID string) (Credentials, error) {
	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, b.roleName)

	out, err := b.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		ExternalId:      aws.String(b.externalID),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %s: %v", ErrCredential, roleARN, err)
	}

	c := out.Credentials
	return Credentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
	}, nil
}

// NewScopedClients is the production ClientFactory: it builds service
// clients in the target account from one assumed-role credential set
func NewScopedClients(ctx context.Context, creds Credentials, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoped client config: %w", err)
	}

	return &Clients{
		S3:     s3.NewFromConfig(cfg),
		EC2:    ec2.NewFromConfig(cfg),
		Lambda: lambda.NewFromConfig(cfg),
	}, nil
}
