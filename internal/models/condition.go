package models

// Condition operators. Unary operators ignore Value.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpIsToday     = "is_today"
	OpIsTomorrow  = "is_tomorrow"
)

// Condition is one field/operator/value predicate evaluated against an
// event payload. Field is a dotted path, e.g. "ticket.status".
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value,omitempty"`
}

// IsUnary reports whether the operator takes no comparison value.
func (c Condition) IsUnary() bool {
	switch c.Operator {
	case OpIsEmpty, OpIsNotEmpty, OpIsToday, OpIsTomorrow:
		return true
	}
	return false
}

// KnownOperator reports whether the operator is one the evaluator understands.
func (c Condition) KnownOperator() bool {
	switch c.Operator {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
		OpEndsWith, OpGreaterThan, OpLessThan, OpIsEmpty, OpIsNotEmpty,
		OpIsToday, OpIsTomorrow:
		return true
	}
	return false
}
