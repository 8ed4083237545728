package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joshsymonds/inboxrules/internal/actions"
)

const subjectDisplayLimit = 60

// Report summarizes one run.
type Report struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	DryRun        bool           `json:"dry_run"`
	Records       int            `json:"records"`
	Rules         int            `json:"rules"`
	Matches       []Match        `json:"matches"`
	RuleMatches   map[string]int `json:"rule_matches"`
	FailedActions int            `json:"failed_actions"`
}

// Match is one (record, rule) pair whose rule matched.
type Match struct {
	MessageID string            `json:"message_id"`
	Subject   string            `json:"subject"`
	Rule      string            `json:"rule"`
	Outcomes  []actions.Outcome `json:"outcomes"`
}

// DeadRules lists the rules that matched no record, sorted by name.
func (r Report) DeadRules() []string {
	var dead []string
	for name, n := range r.RuleMatches {
		if n == 0 {
			dead = append(dead, name)
		}
	}
	sort.Strings(dead)
	return dead
}

// HumanSummary renders a concise CLI summary.
func (r Report) HumanSummary() string {
	b := &strings.Builder{}
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(b, "inboxrules: %d records, %d rules, %d matches%s\n", r.Records, r.Rules, len(r.Matches), mode)
	if len(r.RuleMatches) > 0 {
		names := make([]string, 0, len(r.RuleMatches))
		for name := range r.RuleMatches {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("matches per rule:\n")
		for _, name := range names {
			fmt.Fprintf(b, "  %-30s %4d\n", name, r.RuleMatches[name])
		}
	}
	if r.FailedActions > 0 {
		fmt.Fprintf(b, "failed actions (%d):\n", r.FailedActions)
		for _, m := range r.Matches {
			for _, o := range m.Outcomes {
				if o.OK() {
					continue
				}
				fmt.Fprintf(b, "  %s %q %s: %v\n", m.Rule, truncate(m.Subject, subjectDisplayLimit), o.Type, o.Err())
			}
		}
	}
	return b.String()
}

// WriteJSON serializes the report to a path relative to the working
// directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	abs := filepath.Join(wd, clean)
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", abs, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
