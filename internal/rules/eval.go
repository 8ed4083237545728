package rules

import (
	"strings"
	"time"
)

const daysPerMonth = 30

// Evaluate reports whether a single condition holds for the record. It
// never fails: unknown fields, predicates or value shapes do not match.
func Evaluate(f Fields, c Condition, now time.Time) bool {
	if c.Field == FieldReceived {
		if c.Age == nil {
			return false
		}
		return MatchAge(f.Received, f.Naive, c.Predicate, *c.Age, now)
	}
	value, ok := f.Value(c.Field)
	if !ok || c.Age != nil {
		return false
	}
	want := strings.ToLower(c.Text)
	switch c.Predicate {
	case Contains:
		return strings.Contains(value, want)
	case DoesNotContain:
		return !strings.Contains(value, want)
	case Equals:
		return value == want
	case DoesNotEqual:
		return value != want
	default:
		return false
	}
}

// MatchAge compares a received timestamp against now minus age. Months
// count as 30 days. less_than holds for messages newer than the threshold
// and greater_than for messages older than it.
//
// A zone-aware timestamp is compared against now in the same zone. A naive
// one is read as local wall-clock time.
func MatchAge(received time.Time, naive bool, p Predicate, age Age, now time.Time) bool {
	if received.IsZero() || age.Amount < 0 {
		return false
	}
	var days int
	switch age.Unit {
	case Days:
		days = age.Amount
	case Months:
		days = age.Amount * daysPerMonth
	default:
		return false
	}
	if naive {
		received = time.Date(
			received.Year(), received.Month(), received.Day(),
			received.Hour(), received.Minute(), received.Second(), received.Nanosecond(),
			time.Local,
		)
		now = now.In(time.Local)
	} else {
		now = now.In(received.Location())
	}
	threshold := now.AddDate(0, 0, -days)
	switch p {
	case LessThan:
		return received.After(threshold)
	case GreaterThan:
		return received.Before(threshold)
	default:
		return false
	}
}

// Matches evaluates every condition of the rule and combines the results
// by the rule's mode. A rule without conditions never matches.
func Matches(f Fields, r Rule, now time.Time) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	results := make([]bool, len(r.Conditions))
	for i, c := range r.Conditions {
		results[i] = Evaluate(f, c, now)
	}
	switch r.mode() {
	case ModeAll:
		for _, ok := range results {
			if !ok {
				return false
			}
		}
		return true
	case ModeAny:
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (r Rule) mode() Mode {
	if r.Mode == "" {
		return ModeAll
	}
	return Mode(strings.ToLower(string(r.Mode)))
}
