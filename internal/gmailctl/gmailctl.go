// Package gmailctl converts compiled gmailctl filters into inboxrules rules
// so an existing filter set can seed a rules file.
package gmailctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Export mirrors the JSON payload produced by `gmailctl compile --format=json`.
type Export struct {
	Filters []Filter `json:"filters"`
	Labels  []Label  `json:"labels"`
}

// Filter represents a single Gmail filter definition.
type Filter struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Criteria FilterCriteria `json:"criteria"`
	Action   FilterAction   `json:"action"`
}

// FilterCriteria captures the Gmail search predicates of a filter.
type FilterCriteria struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Query   string `json:"query,omitempty"`
	List    string `json:"list,omitempty"`
}

// FilterAction describes the Gmail actions for a filter.
type FilterAction struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	Forward        string   `json:"forward,omitempty"`
}

// Label mirrors Gmail label metadata in the compile output.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Runner shells out to the gmailctl binary to obtain compiled filters.
type Runner struct {
	Binary    string
	ConfigDir string
}

// ExportFilters invokes gmailctl and parses the resulting JSON export.
func (r Runner) ExportFilters(ctx context.Context) (Export, error) {
	bin := r.Binary
	if bin == "" {
		bin = "gmailctl"
	}
	args := []string{"compile", "--format=json"}
	if strings.TrimSpace(r.ConfigDir) != "" {
		args = append(args, "--config", r.ConfigDir)
	}
	cmd := exec.CommandContext(ctx, bin, args...) // #nosec G204 - binary determined by user input
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Export{}, fmt.Errorf("run gmailctl: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return Decode(out)
}

// Decode parses a gmailctl JSON export.
func Decode(data []byte) (Export, error) {
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return Export{}, fmt.Errorf("decode gmailctl output: %w", err)
	}
	if len(export.Filters) == 0 {
		return Export{}, errors.New("gmailctl returned no filters")
	}
	return export, nil
}

// Skipped reports a filter, or part of one, with no rule equivalent.
type Skipped struct {
	Filter string `json:"filter"`
	Reason string `json:"reason"`
}

// Convert maps each filter to a rule whose conditions all have to hold.
// Sender and subject criteria become contains conditions; a label plus
// archive becomes a move, and removing UNREAD becomes mark_as_read.
// Filters that cannot be expressed faithfully are skipped and reported.
func Convert(export Export) ([]rules.Rule, []Skipped) {
	labelNames := make(map[string]string, len(export.Labels))
	for _, l := range export.Labels {
		labelNames[l.ID] = l.Name
	}
	var (
		out     []rules.Rule
		skipped []Skipped
	)
	for i, f := range export.Filters {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			name = fmt.Sprintf("gmailctl filter %d", i+1)
		}
		if reason := unsupportedCriteria(f.Criteria); reason != "" {
			skipped = append(skipped, Skipped{Filter: name, Reason: reason})
			continue
		}
		conds := conditions(f.Criteria)
		if len(conds) == 0 {
			skipped = append(skipped, Skipped{Filter: name, Reason: "no from or subject criteria"})
			continue
		}
		acts, notes := actions(f.Action, labelNames)
		for _, n := range notes {
			skipped = append(skipped, Skipped{Filter: name, Reason: n})
		}
		if len(acts) == 0 {
			skipped = append(skipped, Skipped{Filter: name, Reason: "no convertible actions"})
			continue
		}
		out = append(out, rules.Rule{Name: name, Mode: rules.ModeAll, Conditions: conds, Actions: acts})
	}
	return out, skipped
}

func unsupportedCriteria(c FilterCriteria) string {
	switch {
	case strings.TrimSpace(c.Query) != "":
		return fmt.Sprintf("query %q has no rule equivalent", c.Query)
	case strings.TrimSpace(c.To) != "":
		return "recipient criteria are not supported"
	case strings.TrimSpace(c.List) != "":
		return "mailing list criteria are not supported"
	}
	return ""
}

func conditions(c FilterCriteria) []rules.Condition {
	var out []rules.Condition
	if v := strings.TrimSpace(c.From); v != "" {
		out = append(out, rules.Condition{Field: rules.FieldFrom, Predicate: rules.Contains, Text: v})
	}
	if v := strings.TrimSpace(c.Subject); v != "" {
		out = append(out, rules.Condition{Field: rules.FieldSubject, Predicate: rules.Contains, Text: v})
	}
	return out
}

func actions(a FilterAction, labelNames map[string]string) ([]rules.Action, []string) {
	var (
		out   []rules.Action
		notes []string
	)
	archives := contains(a.RemoveLabelIDs, string(gmail.LabelInbox))
	if contains(a.RemoveLabelIDs, string(gmail.LabelUnread)) {
		out = append(out, rules.Action{Type: rules.MarkAsRead})
	}
	for _, id := range a.AddLabelIDs {
		name, ok := labelNames[id]
		if !ok {
			notes = append(notes, fmt.Sprintf("system label %s is not supported", id))
			continue
		}
		if !archives {
			notes = append(notes, fmt.Sprintf("label %q without archive has no rule equivalent", name))
			continue
		}
		out = append(out, rules.Action{Type: rules.Move, Destination: name})
	}
	if a.Forward != "" {
		notes = append(notes, "forwarding is not supported")
	}
	return out, notes
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}
