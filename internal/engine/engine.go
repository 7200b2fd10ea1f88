package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"automation-service/internal/metrics"
	"automation-service/internal/models"
)

// RuleFinder loads the active rules subscribed to a trigger event type.
type RuleFinder interface {
	GetActiveRulesByTrigger(ctx context.Context, trigger string) ([]models.AutomationRule, error)
}

// ExecutionCreator persists new pending executions.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, exec models.RuleExecution) error
	TouchRuleLastRun(ctx context.Context, ruleID string) error
}

// Engine matches incoming events against active rules and spawns
// RuleExecutions for the ones whose top-level conditions pass.
type Engine struct {
	rules  RuleFinder
	execs  ExecutionCreator
	eval   *Evaluator
	clock  Clock
	logger *logrus.Logger
}

func New(rules RuleFinder, execs ExecutionCreator, eval *Evaluator, clock Clock, logger *logrus.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{rules: rules, execs: execs, eval: eval, clock: clock, logger: logger}
}

// HandleEvent creates one pending execution per matching active rule.
// A rule whose conditions do not match is the normal filtering path, not an
// error. Rules with zero steps are inert.
func (e *Engine) HandleEvent(ctx context.Context, evt models.Event) error {
	if evt.Type == "" {
		return fmt.Errorf("event has no type")
	}

	rules, err := e.rules.GetActiveRulesByTrigger(ctx, evt.Type)
	if err != nil {
		return fmt.Errorf("load rules for trigger %s: %w", evt.Type, err)
	}

	for _, rule := range rules {
		if !e.eval.Evaluate(rule.Conditions, evt.Payload) {
			e.logger.Debugf("rule %s skipped for event %s: conditions not met", rule.ID, evt.Type)
			continue
		}
		if len(rule.Steps) == 0 {
			e.logger.Debugf("rule %s matched event %s but has no steps", rule.ID, evt.Type)
			continue
		}

		now := e.clock.Now()
		exec := models.RuleExecution{
			ID:             uuid.New().String(),
			RuleID:         rule.ID,
			TriggerPayload: evt.Payload,
			Status:         models.ExecutionPending,
			NextFireAt:     now.Add(rule.Steps[0].Delay()),
			CreatedAt:      now,
		}
		if err := e.execs.CreateExecution(ctx, exec); err != nil {
			// One rule's failure never blocks the others.
			e.logger.Errorf("create execution for rule %s failed: %v", rule.ID, err)
			continue
		}
		if err := e.execs.TouchRuleLastRun(ctx, rule.ID); err != nil {
			e.logger.Warnf("touch last_run_at for rule %s failed: %v", rule.ID, err)
		}
		metrics.ExecutionsStarted.Inc()
		e.logger.Infof("rule %s fired for event %s, execution %s scheduled at %s",
			rule.ID, evt.Type, exec.ID, exec.NextFireAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
