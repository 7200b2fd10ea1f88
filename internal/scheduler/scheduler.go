package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"automation-service/internal/actions"
	"automation-service/internal/db"
	"automation-service/internal/engine"
	"automation-service/internal/metrics"
	"automation-service/internal/models"
)

// ExecutionStore is the durable side of the scheduler. Every transition is a
// single atomic conditional update guarded on the expected prior status, so
// replicated scheduler processes never double-fire a step.
type ExecutionStore interface {
	ClaimDue(ctx context.Context, now time.Time, batch int) ([]models.RuleExecution, error)
	AdvanceStep(ctx context.Context, id string, nextIndex int, nextFireAt time.Time) (bool, error)
	CompleteExecution(ctx context.Context, id string) (bool, error)
	FailExecution(ctx context.Context, id, reason string) (bool, error)
	RescheduleRetry(ctx context.Context, id string, attempts int, nextFireAt time.Time, reason string) (bool, error)
	CancelExecution(ctx context.Context, id string) (bool, error)
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
}

// RuleSource resolves the rule an execution belongs to.
type RuleSource interface {
	GetRule(ctx context.Context, id string) (models.AutomationRule, error)
}

// ActionRunner executes a single step. Implemented by actions.Executor.
type ActionRunner interface {
	Execute(ctx context.Context, executionID string, stepIndex int,
		step models.AutomationStep, data map[string]any) (actions.Result, error)
}

// Notifier receives execution status transitions (websocket feed, metrics).
type Notifier interface {
	ExecutionTransition(executionID, ruleID, status string, stepIndex int, detail string)
}

// Options are the scheduler tunables. None of them is contractual; all come
// from configuration with the defaults below.
type Options struct {
	PollInterval  time.Duration
	ClaimBatch    int
	Workers       int
	ActionTimeout time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	StaleAfter    time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.ClaimBatch <= 0 {
		o.ClaimBatch = 50
	}
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 15 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Minute
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
}

// Scheduler drives pending RuleExecutions through their steps. A poll loop
// claims due work and hands it to a bounded worker pool; polling itself
// never blocks on action I/O.
type Scheduler struct {
	store    ExecutionStore
	rules    RuleSource
	runner   ActionRunner
	eval     *engine.Evaluator
	clock    engine.Clock
	opts     Options
	work     chan models.RuleExecution
	notifier Notifier
	logger   *logrus.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
}

func New(store ExecutionStore, rules RuleSource, runner ActionRunner,
	eval *engine.Evaluator, clock engine.Clock, opts Options,
	notifier Notifier, logger *logrus.Logger) *Scheduler {

	opts.applyDefaults()
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		rules:    rules,
		runner:   runner,
		eval:     eval,
		clock:    clock,
		opts:     opts,
		work:     make(chan models.RuleExecution, opts.ClaimBatch),
		notifier: notifier,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool and the poll loop.
func (s *Scheduler) Start(wg *sync.WaitGroup) {
	s.wg = wg
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go s.worker(i)
	}
	wg.Add(1)
	go s.pollLoop()
}

// Stop cancels the poll loop and the workers. In-flight rows left in running
// are reclaimed by the next poll of any replica.
func (s *Scheduler) Stop() {
	s.cancel()
}

func (s *Scheduler) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("scheduler poll loop stopped")
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

// pollOnce reclaims stale claims, then claims and enqueues due executions.
func (s *Scheduler) pollOnce() {
	now := s.clock.Now()

	if n, err := s.store.ReclaimStale(s.ctx, now.Add(-s.opts.StaleAfter)); err != nil {
		s.logger.Errorf("reclaim stale executions failed: %v", err)
	} else if n > 0 {
		s.logger.Warnf("reclaimed %d stale executions", n)
	}

	execs, err := s.store.ClaimDue(s.ctx, now, s.opts.ClaimBatch)
	if err != nil {
		s.logger.Errorf("claim due executions failed: %v", err)
		return
	}
	metrics.DueBatchSize.Set(float64(len(execs)))

	for _, exec := range execs {
		select {
		case s.work <- exec:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("scheduler worker %d stopped", id)
			return
		case exec := <-s.work:
			s.process(exec)
		}
	}
}

// process runs exactly one claimed step of one execution: optional step
// condition against the original trigger snapshot, then the action, then the
// conditional transition. Failures stay local to this execution.
func (s *Scheduler) process(exec models.RuleExecution) {
	rule, err := s.rules.GetRule(s.ctx, exec.RuleID)
	if err != nil {
		if errors.Is(err, db.ErrRuleNotFound) {
			s.fail(exec, fmt.Sprintf("rule %s not found", exec.RuleID))
			return
		}
		// Transient load failure. Leave the row running; the stale-claim
		// reclaim returns it to pending for another delivery.
		s.logger.Errorf("load rule %s for execution %s failed: %v", exec.RuleID, exec.ID, err)
		return
	}
	if !rule.Active {
		// Deactivated after the claim; the CancelByRule sweep may have
		// missed this row while it was pending.
		if ok, err := s.store.CancelExecution(s.ctx, exec.ID); err != nil {
			s.logger.Errorf("cancel execution %s failed: %v", exec.ID, err)
		} else if ok {
			metrics.ExecutionsFinished.WithLabelValues(models.ExecutionCancelled).Inc()
			s.transition(exec, models.ExecutionCancelled, "rule deactivated")
		}
		return
	}
	if exec.CurrentStepIndex >= len(rule.Steps) {
		s.complete(exec)
		return
	}

	step := rule.Steps[exec.CurrentStepIndex]

	if step.Condition != nil && !s.eval.Evaluate([]models.Condition{*step.Condition}, exec.TriggerPayload) {
		// Condition no longer holds for the snapshot; skip without executing.
		s.logger.Infof("execution %s step %d skipped: condition not met", exec.ID, exec.CurrentStepIndex)
		s.advance(exec, rule)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ActionTimeout)
	res, err := s.runner.Execute(ctx, exec.ID, exec.CurrentStepIndex, step, exec.TriggerPayload)
	cancel()

	if err == nil {
		if res.Skipped {
			s.logger.Infof("execution %s step %d already applied, advancing", exec.ID, exec.CurrentStepIndex)
		}
		s.advance(exec, rule)
		return
	}

	if actions.IsTransient(err) && exec.Attempts+1 < s.opts.MaxAttempts {
		attempts := exec.Attempts + 1
		delay := s.backoff(attempts)
		nextFire := s.clock.Now().Add(delay)
		s.logger.Warnf("execution %s step %d attempt %d/%d failed, retrying in %s: %v",
			exec.ID, exec.CurrentStepIndex, attempts, s.opts.MaxAttempts, delay, err)
		if ok, rerr := s.store.RescheduleRetry(s.ctx, exec.ID, attempts, nextFire, err.Error()); rerr != nil {
			s.logger.Errorf("reschedule execution %s failed: %v", exec.ID, rerr)
		} else if ok {
			s.transition(exec, models.ExecutionPending, err.Error())
		}
		return
	}

	s.fail(exec, err.Error())
}

// advance moves to the next step or completes. The next step's delay counts
// from now, i.e. from the completion of the step that just ran.
func (s *Scheduler) advance(exec models.RuleExecution, rule models.AutomationRule) {
	next := exec.CurrentStepIndex + 1
	if next >= len(rule.Steps) {
		s.complete(exec)
		return
	}

	nextFire := s.clock.Now().Add(rule.Steps[next].Delay())
	ok, err := s.store.AdvanceStep(s.ctx, exec.ID, next, nextFire)
	if err != nil {
		s.logger.Errorf("advance execution %s failed: %v", exec.ID, err)
		return
	}
	if !ok {
		// Lost the race against cancellation; the terminal writer wins.
		s.logger.Infof("execution %s reached a terminal state mid-step, not advancing", exec.ID)
		return
	}
	s.transition(exec, models.ExecutionPending, fmt.Sprintf("step %d scheduled", next))
}

func (s *Scheduler) complete(exec models.RuleExecution) {
	ok, err := s.store.CompleteExecution(s.ctx, exec.ID)
	if err != nil {
		s.logger.Errorf("complete execution %s failed: %v", exec.ID, err)
		return
	}
	if ok {
		metrics.ExecutionsFinished.WithLabelValues(models.ExecutionCompleted).Inc()
		s.transition(exec, models.ExecutionCompleted, "")
		s.logger.Infof("execution %s completed", exec.ID)
	}
}

func (s *Scheduler) fail(exec models.RuleExecution, reason string) {
	ok, err := s.store.FailExecution(s.ctx, exec.ID, reason)
	if err != nil {
		s.logger.Errorf("fail execution %s failed: %v", exec.ID, err)
		return
	}
	if ok {
		metrics.ExecutionsFinished.WithLabelValues(models.ExecutionFailed).Inc()
		s.transition(exec, models.ExecutionFailed, reason)
		s.logger.Errorf("execution %s failed: %s", exec.ID, reason)
	}
}

func (s *Scheduler) transition(exec models.RuleExecution, status, detail string) {
	if s.notifier != nil {
		s.notifier.ExecutionTransition(exec.ID, exec.RuleID, status, exec.CurrentStepIndex, detail)
	}
}

// backoff doubles from the base per attempt, capped.
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.opts.BackoffMax {
			return s.opts.BackoffMax
		}
	}
	if d > s.opts.BackoffMax {
		return s.opts.BackoffMax
	}
	return d
}
