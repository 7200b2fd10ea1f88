package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"automation-service/internal/models"
)

// Clock abstracts time.Now so day-granularity operators stay deterministic
// in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Evaluator applies condition lists to event payload snapshots. It never
// returns an error: malformed input degrades to false and a warning log.
type Evaluator struct {
	clock  Clock
	loc    *time.Location
	logger *logrus.Logger
}

func NewEvaluator(clock Clock, loc *time.Location, logger *logrus.Logger) *Evaluator {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Evaluator{clock: clock, loc: loc, logger: logger}
}

// Evaluate returns the conjunction of all conditions against the payload.
// An empty list is true; the first false short-circuits.
func (e *Evaluator) Evaluate(conds []models.Condition, data map[string]any) bool {
	for _, c := range conds {
		if !e.evalOne(c, data) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalOne(c models.Condition, data map[string]any) bool {
	val, found := LookupPath(data, c.Field)
	if !found || val == nil {
		// A missing field satisfies only is_empty.
		return c.Operator == models.OpIsEmpty
	}

	actual := Stringify(val)

	switch c.Operator {
	case models.OpEquals:
		return actual == c.Value
	case models.OpNotEquals:
		return actual != c.Value
	case models.OpContains:
		return strings.Contains(actual, c.Value)
	case models.OpNotContains:
		return !strings.Contains(actual, c.Value)
	case models.OpStartsWith:
		return strings.HasPrefix(actual, c.Value)
	case models.OpEndsWith:
		return strings.HasSuffix(actual, c.Value)
	case models.OpGreaterThan, models.OpLessThan:
		a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if errA != nil || errB != nil {
			e.logger.Warnf("non-numeric comparison for field %s (%q vs %q), evaluating false", c.Field, actual, c.Value)
			return false
		}
		if c.Operator == models.OpGreaterThan {
			return a > b
		}
		return a < b
	case models.OpIsEmpty:
		return actual == ""
	case models.OpIsNotEmpty:
		return actual != ""
	case models.OpIsToday:
		return e.sameDay(actual, 0)
	case models.OpIsTomorrow:
		return e.sameDay(actual, 1)
	default:
		e.logger.Warnf("unknown operator %q for field %s, evaluating false", c.Operator, c.Field)
		return false
	}
}

// sameDay compares the field value as a date against today+offset days in the
// configured location.
func (e *Evaluator) sameDay(value string, offsetDays int) bool {
	t, ok := parseDate(value, e.loc)
	if !ok {
		e.logger.Warnf("unparseable date %q, evaluating false", value)
		return false
	}
	ref := e.clock.Now().In(e.loc).AddDate(0, 0, offsetDays)
	y1, m1, d1 := t.In(e.loc).Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(value string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LookupPath resolves a dotted path like "ticket.status" inside a nested
// payload map. Traversing through a non-map reports not found.
func LookupPath(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a payload value the way templates and conditions see it.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; keep integers clean.
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
