package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ErrNoRulesFile is returned by Load when the rules file does not exist.
var ErrNoRulesFile = errors.New("rules file not found")

// Set is the outcome of loading a rules file: the valid rules in file
// order plus the rules that were rejected.
type Set struct {
	Rules    []Rule
	Rejected []Problem
}

// Problem describes a rule rejected at load time.
type Problem struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Load reads a rules file. A missing or undecodable file yields an empty
// Set together with the error so callers can report it and carry on.
func Load(path string) (Set, error) {
	f, err := os.Open(path) // #nosec G304 - path supplied by the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Set{}, fmt.Errorf("%w: %s", ErrNoRulesFile, path)
		}
		return Set{}, fmt.Errorf("open rules %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	set, err := Parse(f)
	if err != nil {
		return Set{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return set, nil
}

// Parse decodes a {"rules": [...]} document and validates each rule.
func Parse(r io.Reader) (Set, error) {
	var doc struct {
		Rules []json.RawMessage `json:"rules"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Set{}, err
	}
	set := Set{Rules: make([]Rule, 0, len(doc.Rules))}
	for i, raw := range doc.Rules {
		var rule Rule
		if err := json.Unmarshal(raw, &rule); err != nil {
			set.Rejected = append(set.Rejected, Problem{Index: i, Name: defaultName(i), Reason: err.Error()})
			continue
		}
		rule = normalize(rule, i)
		if err := rule.Validate(); err != nil {
			set.Rejected = append(set.Rejected, Problem{Index: i, Name: rule.Name, Reason: err.Error()})
			continue
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

// Validate checks that every field, predicate, value and action of the
// rule is one the engine understands.
func (r Rule) Validate() error {
	var errs []error
	switch r.mode() {
	case ModeAll, ModeAny:
	default:
		errs = append(errs, fmt.Errorf("unknown predicate %q", r.Mode))
	}
	if len(r.Conditions) == 0 {
		errs = append(errs, errors.New("no conditions"))
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("condition %d: %w", i, err))
		}
	}
	for i, a := range r.Actions {
		if err := a.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("action %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (c Condition) Validate() error {
	switch c.Field {
	case FieldFrom, FieldSubject, FieldMessage:
		switch c.Predicate {
		case Contains, DoesNotContain, Equals, DoesNotEqual:
		default:
			return fmt.Errorf("predicate %q not valid for field %s", c.Predicate, c.Field)
		}
		if c.Age != nil {
			return fmt.Errorf("field %s needs a string value", c.Field)
		}
	case FieldReceived:
		switch c.Predicate {
		case LessThan, GreaterThan:
		default:
			return fmt.Errorf("predicate %q not valid for field %s", c.Predicate, c.Field)
		}
		if c.Age == nil {
			return fmt.Errorf("field %s needs an {amount, unit} value", c.Field)
		}
		if c.Age.Amount < 0 {
			return fmt.Errorf("negative amount %d", c.Age.Amount)
		}
		if c.Age.Unit != Days && c.Age.Unit != Months {
			return fmt.Errorf("unknown unit %q", c.Age.Unit)
		}
	default:
		return fmt.Errorf("unknown field %q", c.Field)
	}
	return nil
}

func (a Action) Validate() error {
	switch a.Type {
	case MarkAsRead, MarkAsUnread:
		return nil
	case Move:
		if strings.TrimSpace(a.Destination) == "" {
			return errors.New("move needs a destination")
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func normalize(r Rule, index int) Rule {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = defaultName(index)
	}
	r.Mode = r.mode()
	for i := range r.Actions {
		r.Actions[i].Type = ActionType(strings.ToLower(strings.TrimSpace(string(r.Actions[i].Type))))
		r.Actions[i].Destination = strings.TrimSpace(r.Actions[i].Destination)
	}
	return r
}

func defaultName(index int) string {
	return fmt.Sprintf("Rule %d", index+1)
}
