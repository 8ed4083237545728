// Package lint checks a rules file against the stored records without
// changing anything, for use in CI or before a real run.
package lint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/joshsymonds/inboxrules/internal/process"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Runner runs a dry rules pass. *process.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, opts process.Options) (process.Report, error)
}

// Report captures lint findings.
type Report struct {
	Records   int             `json:"records"`
	Rules     int             `json:"rules"`
	Invalid   []rules.Problem `json:"invalid"`
	Dead      []string        `json:"dead"`
	Conflicts []Conflict      `json:"conflicts"`
}

// Conflict names rules whose actions contradict on the same messages.
type Conflict struct {
	Rules       []string `json:"rules"`
	Description string   `json:"description"`
	Messages    int      `json:"messages"`
}

// Run dry-runs set against the records and collects findings.
func Run(ctx context.Context, runner Runner, set rules.Set) (Report, error) {
	rep, err := runner.Run(ctx, process.Options{Rules: set.Rules, DryRun: true})
	if err != nil {
		return Report{}, fmt.Errorf("dry run: %w", err)
	}
	return Report{
		Records:   rep.Records,
		Rules:     len(set.Rules),
		Invalid:   set.Rejected,
		Dead:      rep.DeadRules(),
		Conflicts: detectConflicts(rep.Matches),
	}, nil
}

type ruleActions struct {
	read, unread bool
	moves        map[string]struct{}
}

func detectConflicts(matches []process.Match) []Conflict {
	byMessage := map[string]map[string]*ruleActions{}
	var order []string
	for _, m := range matches {
		rulesFor, ok := byMessage[m.MessageID]
		if !ok {
			rulesFor = map[string]*ruleActions{}
			byMessage[m.MessageID] = rulesFor
			order = append(order, m.MessageID)
		}
		ra, ok := rulesFor[m.Rule]
		if !ok {
			ra = &ruleActions{moves: map[string]struct{}{}}
			rulesFor[m.Rule] = ra
		}
		for _, o := range m.Outcomes {
			switch o.Type {
			case rules.MarkAsRead:
				ra.read = true
			case rules.MarkAsUnread:
				ra.unread = true
			case rules.Move:
				ra.moves[strings.ToLower(o.Label)] = struct{}{}
			}
		}
	}

	counts := map[string]*Conflict{}
	for _, id := range order {
		rulesFor := byMessage[id]
		var readers, unreaders []string
		destinations := map[string][]string{}
		for name, ra := range rulesFor {
			if ra.read {
				readers = append(readers, name)
			}
			if ra.unread {
				unreaders = append(unreaders, name)
			}
			for dest := range ra.moves {
				destinations[dest] = append(destinations[dest], name)
			}
		}
		if len(readers) > 0 && len(unreaders) > 0 {
			addConflict(counts, merge(readers, unreaders), "mark_as_read and mark_as_unread overlap")
		}
		if len(destinations) > 1 {
			var movers []string
			for _, names := range destinations {
				movers = merge(movers, names)
			}
			addConflict(counts, movers, "moves to different labels overlap")
		}
	}

	out := make([]Conflict, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := strings.Join(out[i].Rules, "|"), strings.Join(out[j].Rules, "|")
		if ki != kj {
			return ki < kj
		}
		return out[i].Description < out[j].Description
	})
	return out
}

func addConflict(counts map[string]*Conflict, names []string, desc string) {
	key := strings.Join(names, "|") + "#" + desc
	if c, ok := counts[key]; ok {
		c.Messages++
		return
	}
	counts[key] = &Conflict{Rules: names, Description: desc, Messages: 1}
}

// merge returns the sorted union of a and b.
func merge(a, b []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ShouldFail reports whether any of the requested conditions are present.
func (r Report) ShouldFail(failOn []string) bool {
	flags := map[string]bool{
		"invalid":  len(r.Invalid) > 0,
		"dead":     len(r.Dead) > 0,
		"conflict": len(r.Conflicts) > 0,
	}
	for _, cond := range failOn {
		cond = strings.TrimSpace(strings.ToLower(cond))
		if cond == "" {
			continue
		}
		if flags[cond] {
			return true
		}
	}
	return false
}

// HumanSummary renders a concise CLI summary.
func (r Report) HumanSummary() string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "inboxrules lint: %d rules checked against %d records\n", r.Rules, r.Records)
	if len(r.Invalid) == 0 && len(r.Dead) == 0 && len(r.Conflicts) == 0 {
		builder.WriteString("no findings\n")
		return builder.String()
	}
	if len(r.Invalid) > 0 {
		builder.WriteString("invalid rules:\n")
		for _, p := range r.Invalid {
			fmt.Fprintf(builder, "  #%d %s: %s\n", p.Index+1, p.Name, p.Reason)
		}
	}
	if len(r.Dead) > 0 {
		builder.WriteString("dead rules:\n")
		for _, name := range r.Dead {
			fmt.Fprintf(builder, "  %s: matches no stored record\n", name)
		}
	}
	if len(r.Conflicts) > 0 {
		builder.WriteString("conflicts:\n")
		for _, cf := range r.Conflicts {
			fmt.Fprintf(builder, "  %s: %s (%d messages)\n", strings.Join(cf.Rules, ", "), cf.Description, cf.Messages)
		}
	}
	return builder.String()
}

// ParseFailOn splits a comma separated list into canonical tokens.
func ParseFailOn(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
