package lint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/joshsymonds/inboxrules/internal/process"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/store"
)

var testNow = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	records []store.Record
	err     error
}

func (f fakeSource) AllByReceivedDesc(ctx context.Context) ([]store.Record, error) {
	_ = ctx
	return f.records, f.err
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunner(recs ...store.Record) *process.Service {
	svc := process.NewService(fakeSource{records: recs}, nil, slogDiscard())
	svc.Clock = func() time.Time { return testNow }
	return svc
}

func record(id, from, subject string) store.Record {
	received := testNow.Add(-48 * time.Hour)
	return store.Record{MessageID: id, FromEmail: from, Subject: subject, ReceivedDate: &received}
}

func subjectRule(name, text string, acts ...rules.Action) rules.Rule {
	return rules.Rule{
		Name:       name,
		Mode:       rules.ModeAll,
		Conditions: []rules.Condition{{Field: rules.FieldSubject, Predicate: rules.Contains, Text: text}},
		Actions:    acts,
	}
}

func TestRunFindings(t *testing.T) {
	runner := newRunner(
		record("m1", "shop@deals.com", "Weekly newsletter"),
		record("m2", "boss@work.com", "Quarterly newsletter review"),
	)
	set := rules.Set{
		Rules: []rules.Rule{
			subjectRule("Read newsletters", "newsletter", rules.Action{Type: rules.MarkAsRead}),
			subjectRule("Keep reviews unread", "review", rules.Action{Type: rules.MarkAsUnread}),
			subjectRule("Promos", "newsletter", rules.Action{Type: rules.Move, Destination: "Promotions"}),
			subjectRule("Work", "quarterly", rules.Action{Type: rules.Move, Destination: "Work"}),
			subjectRule("Invoices", "invoice", rules.Action{Type: rules.MarkAsRead}),
		},
		Rejected: []rules.Problem{{Index: 5, Name: "Rule 6", Reason: "unknown field \"cc\""}},
	}

	rep, err := Run(context.Background(), runner, set)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Records != 2 || rep.Rules != 5 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	if len(rep.Dead) != 1 || rep.Dead[0] != "Invoices" {
		t.Fatalf("dead = %v", rep.Dead)
	}
	if len(rep.Conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %+v", rep.Conflicts)
	}
	if got := strings.Join(rep.Conflicts[0].Rules, ","); got != "Keep reviews unread,Read newsletters" {
		t.Fatalf("first conflict rules = %s", got)
	}
	if got := strings.Join(rep.Conflicts[1].Rules, ","); got != "Promos,Work" || rep.Conflicts[1].Messages != 1 {
		t.Fatalf("second conflict = %+v", rep.Conflicts[1])
	}

	summary := rep.HumanSummary()
	for _, want := range []string{"invalid rules:", "#6 Rule 6", "dead rules:", "Invoices", "conflicts:"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestRunNoFindings(t *testing.T) {
	runner := newRunner(record("m1", "a@b.com", "hello"))
	set := rules.Set{Rules: []rules.Rule{subjectRule("Hello", "hello", rules.Action{Type: rules.MarkAsRead})}}
	rep, err := Run(context.Background(), runner, set)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.ShouldFail([]string{"invalid", "dead", "conflict"}) {
		t.Fatalf("clean report should not fail: %+v", rep)
	}
	if !strings.Contains(rep.HumanSummary(), "no findings") {
		t.Fatalf("unexpected summary %q", rep.HumanSummary())
	}
}

func TestRunSourceError(t *testing.T) {
	svc := process.NewService(fakeSource{err: errors.New("db down")}, nil, slogDiscard())
	if _, err := Run(context.Background(), svc, rules.Set{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestShouldFail(t *testing.T) {
	rep := Report{Dead: []string{"x"}}
	tests := []struct {
		name   string
		failOn []string
		want   bool
	}{
		{name: "dead", failOn: []string{"dead"}, want: true},
		{name: "case", failOn: []string{" DEAD "}, want: true},
		{name: "other", failOn: []string{"invalid", "conflict"}, want: false},
		{name: "none", failOn: nil, want: false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := rep.ShouldFail(tc.failOn); got != tc.want {
				t.Fatalf("ShouldFail(%v) = %v, want %v", tc.failOn, got, tc.want)
			}
		})
	}
}

func TestParseFailOn(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "values",
			input: "invalid, Dead ,conflict",
			want:  []string{"invalid", "dead", "conflict"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFailOn(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("unexpected length: got %d want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("token mismatch: got %q want %q", got[i], tt.want[i])
				}
			}
		})
	}
}
