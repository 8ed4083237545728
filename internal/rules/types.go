package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names a record attribute a condition can test.
type Field string

const (
	FieldFrom     Field = "from"
	FieldSubject  Field = "subject"
	FieldMessage  Field = "message"
	FieldReceived Field = "received"
)

// Predicate is the comparison operator of a condition.
type Predicate string

const (
	Contains       Predicate = "contains"
	DoesNotContain Predicate = "does_not_contain"
	Equals         Predicate = "equals"
	DoesNotEqual   Predicate = "does_not_equal"
	LessThan       Predicate = "less_than"
	GreaterThan    Predicate = "greater_than"
)

// Unit is the unit of an age value.
type Unit string

const (
	Days   Unit = "days"
	Months Unit = "months"
)

// Mode combines condition results.
type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

// ActionType is a mutating operation applied on match.
type ActionType string

const (
	MarkAsRead   ActionType = "mark_as_read"
	MarkAsUnread ActionType = "mark_as_unread"
	Move         ActionType = "move"
)

// Age is the structured value of a received condition.
type Age struct {
	Amount int  `json:"amount"`
	Unit   Unit `json:"unit"`
}

// UnmarshalJSON accepts the amount as a JSON number or a numeric string
// and defaults the unit to days.
func (a *Age) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount json.RawMessage `json:"amount"`
		Unit   string          `json:"unit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Unit = Unit(strings.ToLower(strings.TrimSpace(raw.Unit)))
	if a.Unit == "" {
		a.Unit = Days
	}
	a.Amount = 0
	if len(raw.Amount) == 0 || string(raw.Amount) == "null" {
		return nil
	}
	var n int
	if err := json.Unmarshal(raw.Amount, &n); err == nil {
		a.Amount = n
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Amount, &s); err != nil {
		return fmt.Errorf("amount must be an integer, got %s", raw.Amount)
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("amount must be an integer, got %q", s)
	}
	a.Amount = n
	return nil
}

// Condition is a single predicate test against one field. String fields
// carry Text; the received field carries Age.
type Condition struct {
	Field     Field
	Predicate Predicate
	Text      string
	Age       *Age
}

// UnmarshalJSON decodes {"field", "predicate", "value"} where value is a
// string or an age object.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field     string          `json:"field"`
		Predicate string          `json:"predicate"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Condition{
		Field:     Field(strings.ToLower(strings.TrimSpace(raw.Field))),
		Predicate: Predicate(strings.ToLower(strings.TrimSpace(raw.Predicate))),
	}
	value := strings.TrimSpace(string(raw.Value))
	switch {
	case value == "" || value == "null":
	case strings.HasPrefix(value, "{"):
		var age Age
		if err := json.Unmarshal(raw.Value, &age); err != nil {
			return fmt.Errorf("condition %s value: %w", c.Field, err)
		}
		c.Age = &age
	default:
		if err := json.Unmarshal(raw.Value, &c.Text); err != nil {
			return fmt.Errorf("condition %s value must be a string or an age object", c.Field)
		}
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := map[string]any{"field": c.Field, "predicate": c.Predicate}
	if c.Age != nil {
		out["value"] = c.Age
	} else {
		out["value"] = c.Text
	}
	return json.Marshal(out)
}

// Action is applied when its rule matches.
type Action struct {
	Type        ActionType `json:"type"`
	Destination string     `json:"destination,omitempty"`
}

// Rule is a named set of conditions with a combination mode and actions.
type Rule struct {
	Name       string      `json:"name"`
	Mode       Mode        `json:"predicate"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
}

// Fields is the read-only view of a record the evaluator works on.
type Fields struct {
	From    string
	Subject string
	Body    string
	// Received is the zero time when the record has no timestamp.
	Received time.Time
	// Naive marks a timestamp stored without zone information.
	Naive bool
}

// Value returns the lower-cased value of a string field. ok is false for
// the received field and for unknown fields.
func (f Fields) Value(field Field) (string, bool) {
	switch field {
	case FieldFrom:
		return strings.ToLower(f.From), true
	case FieldSubject:
		return strings.ToLower(f.Subject), true
	case FieldMessage:
		return strings.ToLower(f.Body), true
	default:
		return "", false
	}
}
