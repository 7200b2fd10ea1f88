package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"automation-service/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestEvaluator(now time.Time) *Evaluator {
	return NewEvaluator(&fakeClock{now: now}, time.UTC, nil)
}

func TestEvaluate_EmptyConditionsAlwaysTrue(t *testing.T) {
	e := newTestEvaluator(time.Now())

	assert.True(t, e.Evaluate(nil, map[string]any{"ticket": map[string]any{"status": "open"}}))
	assert.True(t, e.Evaluate([]models.Condition{}, nil))
	assert.True(t, e.Evaluate([]models.Condition{}, map[string]any{}))
}

func TestEvaluate_StringOperators(t *testing.T) {
	e := newTestEvaluator(time.Now())
	data := map[string]any{
		"ticket": map[string]any{
			"status":      "completed",
			"device_type": "iPhone 12",
		},
	}

	cases := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"equals match", models.Condition{Field: "ticket.status", Operator: models.OpEquals, Value: "completed"}, true},
		{"equals mismatch", models.Condition{Field: "ticket.status", Operator: models.OpEquals, Value: "in_progress"}, false},
		{"not_equals", models.Condition{Field: "ticket.status", Operator: models.OpNotEquals, Value: "open"}, true},
		{"contains", models.Condition{Field: "ticket.device_type", Operator: models.OpContains, Value: "iPhone"}, true},
		{"contains case sensitive", models.Condition{Field: "ticket.device_type", Operator: models.OpContains, Value: "iphone"}, false},
		{"not_contains", models.Condition{Field: "ticket.device_type", Operator: models.OpNotContains, Value: "Samsung"}, true},
		{"starts_with", models.Condition{Field: "ticket.device_type", Operator: models.OpStartsWith, Value: "iPhone"}, true},
		{"ends_with", models.Condition{Field: "ticket.device_type", Operator: models.OpEndsWith, Value: "12"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate([]models.Condition{tc.cond}, data))
		})
	}
}

func TestEvaluate_NumericOperators(t *testing.T) {
	e := newTestEvaluator(time.Now())
	data := map[string]any{
		"invoice": map[string]any{
			"total":  float64(150),
			"status": "paid",
		},
	}

	assert.True(t, e.Evaluate([]models.Condition{
		{Field: "invoice.total", Operator: models.OpGreaterThan, Value: "100"},
	}, data))
	assert.False(t, e.Evaluate([]models.Condition{
		{Field: "invoice.total", Operator: models.OpLessThan, Value: "100"},
	}, data))

	// Non-numeric operands degrade to false, never to an error.
	assert.False(t, e.Evaluate([]models.Condition{
		{Field: "invoice.status", Operator: models.OpGreaterThan, Value: "100"},
	}, data))
	assert.False(t, e.Evaluate([]models.Condition{
		{Field: "invoice.total", Operator: models.OpLessThan, Value: "lots"},
	}, data))
}

func TestEvaluate_MissingFieldSatisfiesOnlyIsEmpty(t *testing.T) {
	e := newTestEvaluator(time.Now())
	data := map[string]any{"ticket": map[string]any{"status": "open"}}

	operators := []string{
		models.OpEquals, models.OpNotEquals, models.OpContains, models.OpNotContains,
		models.OpStartsWith, models.OpEndsWith, models.OpGreaterThan, models.OpLessThan,
		models.OpIsNotEmpty, models.OpIsToday, models.OpIsTomorrow,
	}
	for _, op := range operators {
		cond := models.Condition{Field: "ticket.missing", Operator: op, Value: "x"}
		assert.False(t, e.Evaluate([]models.Condition{cond}, data), "operator %s should fail on missing field", op)
	}

	assert.True(t, e.Evaluate([]models.Condition{
		{Field: "ticket.missing", Operator: models.OpIsEmpty},
	}, data))
	// Traversal through a non-map also counts as missing.
	assert.True(t, e.Evaluate([]models.Condition{
		{Field: "ticket.status.deeper", Operator: models.OpIsEmpty},
	}, data))
}

func TestEvaluate_EmptyOperators(t *testing.T) {
	e := newTestEvaluator(time.Now())
	data := map[string]any{"customer": map[string]any{"email": "", "phone": "+15550001111"}}

	assert.True(t, e.Evaluate([]models.Condition{{Field: "customer.email", Operator: models.OpIsEmpty}}, data))
	assert.False(t, e.Evaluate([]models.Condition{{Field: "customer.email", Operator: models.OpIsNotEmpty}}, data))
	assert.True(t, e.Evaluate([]models.Condition{{Field: "customer.phone", Operator: models.OpIsNotEmpty}}, data))
}

func TestEvaluate_DayOperatorsUseInjectedClock(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	e := newTestEvaluator(now)
	data := map[string]any{
		"appointment": map[string]any{
			"today_ts":  "2024-06-10T09:00:00Z",
			"tomorrow":  "2024-06-11",
			"past_date": "2024-06-01",
		},
	}

	assert.True(t, e.Evaluate([]models.Condition{{Field: "appointment.today_ts", Operator: models.OpIsToday}}, data))
	assert.False(t, e.Evaluate([]models.Condition{{Field: "appointment.tomorrow", Operator: models.OpIsToday}}, data))
	assert.True(t, e.Evaluate([]models.Condition{{Field: "appointment.tomorrow", Operator: models.OpIsTomorrow}}, data))
	assert.False(t, e.Evaluate([]models.Condition{{Field: "appointment.past_date", Operator: models.OpIsToday}}, data))

	// Garbage dates evaluate false, not as errors.
	garbage := map[string]any{"appointment": map[string]any{"when": "soonish"}}
	assert.False(t, e.Evaluate([]models.Condition{{Field: "appointment.when", Operator: models.OpIsToday}}, garbage))
}

func TestEvaluate_ConjunctionShortCircuits(t *testing.T) {
	e := newTestEvaluator(time.Now())
	data := map[string]any{"ticket": map[string]any{"status": "completed", "priority": "high"}}

	conds := []models.Condition{
		{Field: "ticket.status", Operator: models.OpEquals, Value: "completed"},
		{Field: "ticket.priority", Operator: models.OpEquals, Value: "high"},
	}
	assert.True(t, e.Evaluate(conds, data))

	conds[0].Value = "open"
	assert.False(t, e.Evaluate(conds, data))
}

func TestEvaluate_Deterministic(t *testing.T) {
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	e := newTestEvaluator(now)
	data := map[string]any{"ticket": map[string]any{"due": "2024-06-10"}}
	conds := []models.Condition{{Field: "ticket.due", Operator: models.OpIsToday}}

	first := e.Evaluate(conds, data)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Evaluate(conds, data))
	}
}

func TestLookupPath(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": float64(7)}},
	}

	v, ok := LookupPath(data, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, "7", Stringify(v))

	_, ok = LookupPath(data, "a.b.c.d")
	assert.False(t, ok)
	_, ok = LookupPath(data, "")
	assert.False(t, ok)
}
