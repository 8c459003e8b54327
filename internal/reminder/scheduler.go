// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// RuleScheduler creates and tears down the time-delayed callback triggers
// backing reminder notifications.
type RuleScheduler interface {
	// CreateRule arms a trigger named name to fire at the given instant
	// with trig as its payload. Re-creating an existing name refreshes it.
	CreateRule(ctx context.Context, name string, at time.Time, trig Trigger) error
	// DeleteRule tears a trigger down. Each teardown step is best-effort;
	// failures are logged, never raised.
	DeleteRule(ctx context.Context, name string)
}

// EventBridgeScheduler implements RuleScheduler with one-shot EventBridge
// cron rules targeting the notifications Lambda.
type EventBridgeScheduler struct {
	events       *eventbridge.Client
	functions    *lambda.Client
	functionName string
	targetARN    string
	logger       *slog.Logger
}

// NewEventBridgeScheduler builds a scheduler that arms rules against the
// named notification function.
func NewEventBridgeScheduler(awsCfg aws.Config, functionName, targetARN string, logger *slog.Logger) *EventBridgeScheduler {
	return &EventBridgeScheduler{
		events:       eventbridge.NewFromConfig(awsCfg),
		functions:    lambda.NewFromConfig(awsCfg),
		functionName: functionName,
		targetARN:    targetARN,
		logger:       logger,
	}
}

// cronExpression renders a one-shot cron schedule for a UTC instant:
// cron(minute hour day-of-month month ? year).
func cronExpression(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("cron(%d %d %d %d ? %d)", at.Minute(), at.Hour(), at.Day(), int(at.Month()), at.Year())
}

// CreateRule puts the rule, grants EventBridge permission to invoke the
// notification function, and attaches the trigger payload as the target
// input. The deterministic rule name makes duplicate scheduling for the
// same meeting and tier overwrite in place.
func (s *EventBridgeScheduler) CreateRule(ctx context.Context, name string, at time.Time, trig Trigger) error {
	rule, err := s.events.PutRule(ctx, &eventbridge.PutRuleInput{
		Name:               aws.String(name),
		ScheduleExpression: aws.String(cronExpression(at)),
	})
	if err != nil {
		return fmt.Errorf("putting rule %q: %w", name, err)
	}

	_, err = s.functions.AddPermission(ctx, &lambda.AddPermissionInput{
		Action:       aws.String("lambda:InvokeFunction"),
		FunctionName: aws.String(s.functionName),
		Principal:    aws.String("events.amazonaws.com"),
		StatementId:  aws.String(name),
		SourceArn:    rule.RuleArn,
	})
	if err != nil {
		// The statement survives a rule refresh; an existing grant is fine.
		var conflict *lambdatypes.ResourceConflictException
		if !errors.As(err, &conflict) {
			return fmt.Errorf("adding invoke permission for rule %q: %w", name, err)
		}
	}

	input, err := json.Marshal(trig)
	if err != nil {
		return fmt.Errorf("encoding trigger payload for rule %q: %w", name, err)
	}
	_, err = s.events.PutTargets(ctx, &eventbridge.PutTargetsInput{
		Rule: aws.String(name),
		Targets: []ebtypes.Target{
			{
				Id:    aws.String(name + "-target"),
				Arn:   aws.String(s.targetARN),
				Input: aws.String(string(input)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("putting target for rule %q: %w", name, err)
	}
	return nil
}

// DeleteRule disables the rule, detaches its target, deletes it, and
// revokes the invoke permission. The four steps are independently
// best-effort and idempotent: a trigger that already fired or was never
// fully armed tears down as far as possible.
func (s *EventBridgeScheduler) DeleteRule(ctx context.Context, name string) {
	if _, err := s.events.DisableRule(ctx, &eventbridge.DisableRuleInput{
		Name:         aws.String(name),
		EventBusName: aws.String("default"),
	}); err != nil {
		s.logger.With(errKey, err, "rule", name).WarnContext(ctx, "failed to disable rule")
	}

	if _, err := s.events.RemoveTargets(ctx, &eventbridge.RemoveTargetsInput{
		Rule:         aws.String(name),
		EventBusName: aws.String("default"),
		Ids:          []string{name + "-target"},
	}); err != nil {
		s.logger.With(errKey, err, "rule", name).WarnContext(ctx, "failed to remove rule target")
	}

	if _, err := s.events.DeleteRule(ctx, &eventbridge.DeleteRuleInput{
		Name:         aws.String(name),
		EventBusName: aws.String("default"),
	}); err != nil {
		s.logger.With(errKey, err, "rule", name).WarnContext(ctx, "failed to delete rule")
	}

	if _, err := s.functions.RemovePermission(ctx, &lambda.RemovePermissionInput{
		FunctionName: aws.String(s.functionName),
		StatementId:  aws.String(name),
	}); err != nil {
		s.logger.With(errKey, err, "rule", name).WarnContext(ctx, "failed to remove invoke permission")
	}
}
