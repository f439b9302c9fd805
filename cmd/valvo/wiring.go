package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/valvo/config"
	"github.com/yairfalse/valvo/exceptions"
	"github.com/yairfalse/valvo/history"
	"github.com/yairfalse/valvo/policy"
	"github.com/yairfalse/valvo/processor"
	"github.com/yairfalse/valvo/remediation"
	"github.com/yairfalse/valvo/telemetry"
	"github.com/yairfalse/valvo/wal"
)

// buildPipeline wires the event pipeline from configuration: exception
// store, classifier, history recorder, and router share one AWS config in
// the governance account.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*processor.Processor, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg)

	resolver := exceptions.NewResolver(ddb, cfg.ExceptionsTable, logger)
	classifier := policy.NewClassifier(cfg.Severity)
	recorder := history.NewRecorder(ddb, cfg.HistoryTable, logger)
	router := policy.NewRouter(lambda.NewFromConfig(awsCfg), cfg.RemediationFunction, cfg.NotificationFunction, logger)

	return processor.New(resolver, classifier, recorder, router, logger), nil
}

// buildEngine wires the remediation engine: credential broker in the
// governance account, scoped clients per invocation, notifications through
// the same router the pipeline uses.
func buildEngine(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*remediation.Engine, func() error, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	broker := remediation.NewCredentialBroker(sts.NewFromConfig(awsCfg), cfg.RoleName, cfg.ExternalID)
	environments := remediation.NewEnvironmentResolver(cfg.Accounts, cfg.ProductionAccountID)
	router := policy.NewRouter(lambda.NewFromConfig(awsCfg), cfg.RemediationFunction, cfg.NotificationFunction, logger)

	closeTrail := func() error { return nil }
	var trail *wal.WAL
	if cfg.WALDir != "" {
		trail, err = wal.Open(cfg.WALDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit trail: %w", err)
		}
		closeTrail = trail.Close
	}

	engine := remediation.NewEngine(
		broker,
		remediation.NewScopedClients,
		router,
		environments,
		cfg.DefaultTags,
		trail,
		logger,
	)

	return engine, closeTrail, nil
}
