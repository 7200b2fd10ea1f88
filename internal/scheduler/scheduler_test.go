package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"automation-service/internal/actions"
	"automation-service/internal/db"
	"automation-service/internal/engine"
	"automation-service/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore implements ExecutionStore in memory with the same conditional
// transition semantics as the SQL layer.
type memStore struct {
	mu    sync.Mutex
	execs map[string]*models.RuleExecution
}

func newMemStore(execs ...models.RuleExecution) *memStore {
	m := &memStore{execs: map[string]*models.RuleExecution{}}
	for i := range execs {
		e := execs[i]
		m.execs[e.ID] = &e
	}
	return m
}

func (m *memStore) get(id string) models.RuleExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.execs[id]
}

func (m *memStore) setStatus(id, status string) {
	m.mu.Lock()
	m.execs[id].Status = status
	m.mu.Unlock()
}

func (m *memStore) ClaimDue(_ context.Context, now time.Time, batch int) ([]models.RuleExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RuleExecution
	for _, e := range m.execs {
		if len(out) >= batch {
			break
		}
		if e.Status == models.ExecutionPending && !e.NextFireAt.After(now) {
			e.Status = models.ExecutionRunning
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) AdvanceStep(_ context.Context, id string, nextIndex int, nextFireAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.Status != models.ExecutionRunning {
		return false, nil
	}
	e.CurrentStepIndex = nextIndex
	e.NextFireAt = nextFireAt
	e.Attempts = 0
	e.Status = models.ExecutionPending
	return true, nil
}

func (m *memStore) CompleteExecution(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.Status != models.ExecutionRunning {
		return false, nil
	}
	e.Status = models.ExecutionCompleted
	return true, nil
}

func (m *memStore) FailExecution(_ context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.Status != models.ExecutionRunning {
		return false, nil
	}
	e.Status = models.ExecutionFailed
	e.LastError = reason
	return true, nil
}

func (m *memStore) RescheduleRetry(_ context.Context, id string, attempts int, nextFireAt time.Time, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.Status != models.ExecutionRunning {
		return false, nil
	}
	e.Status = models.ExecutionPending
	e.Attempts = attempts
	e.NextFireAt = nextFireAt
	e.LastError = reason
	return true, nil
}

func (m *memStore) CancelExecution(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.execs[id]
	if !ok || e.Status == models.ExecutionCompleted || e.Status == models.ExecutionFailed || e.Status == models.ExecutionCancelled {
		return false, nil
	}
	e.Status = models.ExecutionCancelled
	return true, nil
}

func (m *memStore) ReclaimStale(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubRuleSource struct {
	rules    map[string]models.AutomationRule
	failures int
}

func (s *stubRuleSource) GetRule(_ context.Context, id string) (models.AutomationRule, error) {
	if s.failures > 0 {
		s.failures--
		return models.AutomationRule{}, fmt.Errorf("failed to get rule %s: connection refused", id)
	}
	r, ok := s.rules[id]
	if !ok {
		return models.AutomationRule{}, db.ErrRuleNotFound
	}
	return r, nil
}

type fakeRunner struct {
	mu        sync.Mutex
	steps     []int
	result    actions.Result
	err       error
	onExecute func()
}

func (f *fakeRunner) Execute(_ context.Context, _ string, stepIndex int,
	_ models.AutomationStep, _ map[string]any) (actions.Result, error) {
	f.mu.Lock()
	f.steps = append(f.steps, stepIndex)
	f.mu.Unlock()
	if f.onExecute != nil {
		f.onExecute()
	}
	return f.result, f.err
}

func (f *fakeRunner) executed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.steps...)
}

type captureNotifier struct {
	mu       sync.Mutex
	statuses []string
}

func (n *captureNotifier) ExecutionTransition(_, _, status string, _ int, _ string) {
	n.mu.Lock()
	n.statuses = append(n.statuses, status)
	n.mu.Unlock()
}

func twoStepRule() models.AutomationRule {
	return models.AutomationRule{
		ID:               "r-1",
		Name:             "completed follow-up",
		TriggerEventType: "ticket_status_changed",
		Active:           true,
		Steps: []models.AutomationStep{
			{DelayMinutes: 0, Action: models.Action{
				Type:    models.ActionSendSMS,
				Details: &models.SendSMSDetails{TemplateID: "tmpl-1", ToField: "customer.phone"},
			}},
			{DelayMinutes: 30, Action: models.Action{
				Type:    models.ActionAddTag,
				Details: &models.AddTagDetails{Entity: "customer", EntityIDField: "customer.id", Tag: "notified"},
			}},
		},
	}
}

func runningExec(id string, step int) models.RuleExecution {
	return models.RuleExecution{
		ID:               id,
		RuleID:           "r-1",
		Status:           models.ExecutionRunning,
		CurrentStepIndex: step,
		TriggerPayload: map[string]any{
			"ticket":   map[string]any{"status": "completed"},
			"customer": map[string]any{"id": "c-42", "phone": "+84900000001"},
		},
	}
}

func newTestScheduler(store ExecutionStore, rules RuleSource, runner ActionRunner,
	clock *testClock, opts Options, notifier Notifier) *Scheduler {
	logger := logrus.New()
	eval := engine.NewEvaluator(clock, time.UTC, logger)
	return New(store, rules, runner, eval, clock, opts, notifier, logger)
}

func TestProcess_RunsStepsToCompletion(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	runner := &fakeRunner{}
	notifier := &captureNotifier{}
	s := newTestScheduler(store, rules, runner, clock, Options{}, notifier)

	s.process(store.get("e-1"))

	after := store.get("e-1")
	if after.Status != models.ExecutionPending || after.CurrentStepIndex != 1 {
		t.Fatalf("after step 0: %+v", after)
	}
	if want := clock.Now().Add(30 * time.Minute); !after.NextFireAt.Equal(want) {
		t.Errorf("next fire at %s, want %s", after.NextFireAt, want)
	}

	clock.Advance(30 * time.Minute)
	store.setStatus("e-1", models.ExecutionRunning)
	s.process(store.get("e-1"))

	final := store.get("e-1")
	if final.Status != models.ExecutionCompleted {
		t.Fatalf("final status = %s, want completed", final.Status)
	}
	if got := runner.executed(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("steps executed = %v, want [0 1]", got)
	}
	last := notifier.statuses[len(notifier.statuses)-1]
	if last != models.ExecutionCompleted {
		t.Errorf("last transition = %s, want completed", last)
	}
}

func TestProcess_DelayCountsFromStepCompletion(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	claimTime := clock.Now()
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	// The action itself takes 90 seconds of wall time.
	runner := &fakeRunner{onExecute: func() { clock.Advance(90 * time.Second) }}
	s := newTestScheduler(store, rules, runner, clock, Options{}, nil)

	s.process(store.get("e-1"))

	after := store.get("e-1")
	want := claimTime.Add(90 * time.Second).Add(30 * time.Minute)
	if !after.NextFireAt.Equal(want) {
		t.Errorf("next fire at %s, want %s (delay from completion, not claim)", after.NextFireAt, want)
	}
}

func TestProcess_StepConditionFalseSkipsWithoutExecuting(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	rule := twoStepRule()
	rule.Steps[0].Condition = &models.Condition{
		Field: "ticket.status", Operator: models.OpEquals, Value: "open",
	}
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": rule}}
	runner := &fakeRunner{}
	s := newTestScheduler(store, rules, runner, clock, Options{}, nil)

	s.process(store.get("e-1"))

	if got := runner.executed(); len(got) != 0 {
		t.Errorf("skipped step still executed: %v", got)
	}
	after := store.get("e-1")
	if after.CurrentStepIndex != 1 || after.Status != models.ExecutionPending {
		t.Errorf("skip did not advance: %+v", after)
	}
}

func TestProcess_TransientErrorRetriesWithBackoffThenFails(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	runner := &fakeRunner{err: actions.Transient(fmt.Errorf("provider 503"))}
	opts := Options{MaxAttempts: 3, BackoffBase: 30 * time.Second, BackoffMax: 10 * time.Minute}
	s := newTestScheduler(store, rules, runner, clock, opts, nil)

	s.process(store.get("e-1"))
	after := store.get("e-1")
	if after.Status != models.ExecutionPending || after.Attempts != 1 {
		t.Fatalf("after attempt 1: %+v", after)
	}
	if want := clock.Now().Add(30 * time.Second); !after.NextFireAt.Equal(want) {
		t.Errorf("first retry at %s, want %s", after.NextFireAt, want)
	}

	store.setStatus("e-1", models.ExecutionRunning)
	s.process(store.get("e-1"))
	after = store.get("e-1")
	if after.Attempts != 2 {
		t.Fatalf("after attempt 2: %+v", after)
	}
	if want := clock.Now().Add(60 * time.Second); !after.NextFireAt.Equal(want) {
		t.Errorf("second retry at %s, want doubled backoff %s", after.NextFireAt, want)
	}

	store.setStatus("e-1", models.ExecutionRunning)
	s.process(store.get("e-1"))
	after = store.get("e-1")
	if after.Status != models.ExecutionFailed {
		t.Fatalf("final status = %s, want failed", after.Status)
	}
	if after.LastError == "" {
		t.Error("failed execution should record the last error")
	}
}

func TestProcess_PermanentErrorFailsImmediately(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	runner := &fakeRunner{err: actions.Permanent(fmt.Errorf("invalid recipient"))}
	s := newTestScheduler(store, rules, runner, clock, Options{MaxAttempts: 5}, nil)

	s.process(store.get("e-1"))

	after := store.get("e-1")
	if after.Status != models.ExecutionFailed || after.Attempts != 0 {
		t.Errorf("permanent error should fail without retries: %+v", after)
	}
}

func TestProcess_DeactivatedRuleCancelsClaimedExecution(t *testing.T) {
	clock := &testClock{now: time.Now()}
	rule := twoStepRule()
	rule.Active = false
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": rule}}
	runner := &fakeRunner{}
	notifier := &captureNotifier{}
	s := newTestScheduler(store, rules, runner, clock, Options{}, notifier)

	s.process(store.get("e-1"))

	if got := store.get("e-1"); got.Status != models.ExecutionCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if len(runner.executed()) != 0 {
		t.Error("cancelled execution still ran its step")
	}
}

func TestProcess_TerminalRaceLeavesStateUntouched(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	runner := &fakeRunner{onExecute: func() {
		// Cancellation lands while the action is in flight.
		store.setStatus("e-1", models.ExecutionCancelled)
	}}
	s := newTestScheduler(store, rules, runner, clock, Options{}, nil)

	s.process(store.get("e-1"))

	after := store.get("e-1")
	if after.Status != models.ExecutionCancelled {
		t.Errorf("terminal writer lost: %+v", after)
	}
	if after.CurrentStepIndex != 0 {
		t.Errorf("cancelled execution advanced to step %d", after.CurrentStepIndex)
	}
}

func TestProcess_IndexPastEndCompletes(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newMemStore(runningExec("e-1", 2))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	runner := &fakeRunner{}
	s := newTestScheduler(store, rules, runner, clock, Options{}, nil)

	s.process(store.get("e-1"))

	if got := store.get("e-1"); got.Status != models.ExecutionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if len(runner.executed()) != 0 {
		t.Error("no step should run past the end of the rule")
	}
}

func TestProcess_MissingRuleFailsExecution(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newMemStore(runningExec("e-1", 0))
	s := newTestScheduler(store, &stubRuleSource{rules: map[string]models.AutomationRule{}},
		&fakeRunner{}, clock, Options{}, nil)

	s.process(store.get("e-1"))

	if got := store.get("e-1"); got.Status != models.ExecutionFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestProcess_TransientRuleLoadDoesNotFailExecution(t *testing.T) {
	clock := &testClock{now: time.Now()}
	store := newMemStore(runningExec("e-1", 0))
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}, failures: 1}
	runner := &fakeRunner{}
	s := newTestScheduler(store, rules, runner, clock, Options{}, nil)

	s.process(store.get("e-1"))

	// The row stays running so the stale reclaim can redeliver it.
	after := store.get("e-1")
	if after.Status != models.ExecutionRunning {
		t.Fatalf("status = %s, want running", after.Status)
	}
	if len(runner.executed()) != 0 {
		t.Error("step ran without its rule")
	}

	// Redelivery with the store back up proceeds normally.
	s.process(store.get("e-1"))
	after = store.get("e-1")
	if after.Status != models.ExecutionPending || after.CurrentStepIndex != 1 {
		t.Errorf("after redelivery: %+v", after)
	}
	if got := runner.executed(); len(got) != 1 || got[0] != 0 {
		t.Errorf("steps executed = %v, want [0]", got)
	}
}

func TestPollOnce_ClaimsOnlyDueExecutions(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	clock := &testClock{now: now}
	due := runningExec("e-due", 0)
	due.Status = models.ExecutionPending
	due.NextFireAt = now.Add(-time.Minute)
	future := runningExec("e-future", 0)
	future.Status = models.ExecutionPending
	future.NextFireAt = now.Add(time.Hour)

	store := newMemStore(due, future)
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	s := newTestScheduler(store, rules, &fakeRunner{}, clock, Options{ClaimBatch: 10}, nil)

	s.pollOnce()

	select {
	case exec := <-s.work:
		if exec.ID != "e-due" {
			t.Errorf("claimed %s, want e-due", exec.ID)
		}
	default:
		t.Fatal("due execution was not enqueued")
	}
	select {
	case exec := <-s.work:
		t.Errorf("future execution %s should not be claimed", exec.ID)
	default:
	}

	if got := store.get("e-due"); got.Status != models.ExecutionRunning {
		t.Errorf("claimed execution status = %s, want running", got.Status)
	}
	if got := store.get("e-future"); got.Status != models.ExecutionPending {
		t.Errorf("future execution status = %s, want pending", got.Status)
	}
}

func TestCancellationPreventsFiring(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	clock := &testClock{now: now}
	a := runningExec("e-a", 0)
	a.Status = models.ExecutionPending
	a.NextFireAt = now.Add(time.Hour)
	b := runningExec("e-b", 1)
	b.Status = models.ExecutionPending
	b.NextFireAt = now.Add(2 * time.Hour)

	store := newMemStore(a, b)
	rules := &stubRuleSource{rules: map[string]models.AutomationRule{"r-1": twoStepRule()}}
	runner := &fakeRunner{}
	s := newTestScheduler(store, rules, runner, clock, Options{ClaimBatch: 10}, nil)

	// Rule deactivation cancels both pending executions before they fire.
	for _, id := range []string{"e-a", "e-b"} {
		if ok, err := store.CancelExecution(context.Background(), id); err != nil || !ok {
			t.Fatalf("cancel %s: ok=%v err=%v", id, ok, err)
		}
	}

	clock.Advance(3 * time.Hour)
	s.pollOnce()
	select {
	case exec := <-s.work:
		t.Errorf("cancelled execution %s was claimed", exec.ID)
	default:
	}
	if len(runner.executed()) != 0 {
		t.Error("cancelled executions still fired")
	}
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	s := newTestScheduler(newMemStore(), &stubRuleSource{}, &fakeRunner{},
		&testClock{now: time.Now()},
		Options{BackoffBase: 30 * time.Second, BackoffMax: 10 * time.Minute}, nil)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := s.backoff(tc.attempt); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
