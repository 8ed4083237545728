package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joshsymonds/inboxrules/internal/actions"
	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/labels"
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

// fakeGmail backs both the executor and the label resolver.
type fakeGmail struct {
	mu          sync.Mutex
	labels      []gmail.Label
	modified    []string
	createCalls int
	failModify  map[gmail.MessageID]bool
}

func (f *fakeGmail) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failModify[id] {
		return errors.New("backend error")
	}
	f.modified = append(f.modified, fmt.Sprintf("%s%v-%v", id, ops.AddLabels, ops.RemoveLabels))
	return nil
}

func (f *fakeGmail) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gmail.Label(nil), f.labels...), nil
}

func (f *fakeGmail) CreateLabel(ctx context.Context, name string, vis gmail.Visibility) (gmail.LabelID, error) {
	_, _ = ctx, vis
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	id := gmail.LabelID(fmt.Sprintf("Label_%d", len(f.labels)+1))
	f.labels = append(f.labels, gmail.Label{ID: id, Name: name})
	return id, nil
}

type nopStore struct{}

func (nopStore) SetRead(ctx context.Context, messageID string, read bool) error { return nil }
func (nopStore) MoveLabels(ctx context.Context, messageID, add, remove string) error {
	return nil
}

// recordingApplier captures calls without touching any backend.
type recordingApplier struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingApplier) Apply(ctx context.Context, messageID string, acts []rules.Action) []actions.Outcome {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]actions.Outcome, 0, len(acts))
	for _, a := range acts {
		r.calls = append(r.calls, messageID+":"+string(a.Type))
		out = append(out, actions.Outcome{Type: a.Type, Label: a.Destination})
	}
	return out
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(id, from, subject string, age time.Duration) store.Record {
	received := testNow.Add(-age)
	return store.Record{MessageID: id, FromEmail: from, Subject: subject, ReceivedDate: &received}
}

func newTestService(src Source, exec Applier) *Service {
	svc := NewService(src, exec, slogDiscard())
	svc.Clock = func() time.Time { return testNow }
	return svc
}

func newsletterRule() rules.Rule {
	return rules.Rule{
		Name: "Newsletters",
		Mode: rules.ModeAny,
		Conditions: []rules.Condition{
			{Field: rules.FieldSubject, Predicate: rules.Contains, Text: "newsletter"},
		},
		Actions: []rules.Action{{Type: rules.Move, Destination: "Promotions"}},
	}
}

func TestRunEndToEndMove(t *testing.T) {
	remote := &fakeGmail{}
	resolver := labels.NewResolver(remote, labels.NewCache(), nil, slogDiscard())
	exec := actions.NewExecutor(remote, nopStore{}, resolver, nil, slogDiscard())
	src := fakeSource{records: []store.Record{
		record("m1", "marketing@shop.com", "Newsletter deals", 5*24*time.Hour),
	}}
	svc := newTestService(src, exec)

	rep, err := svc.Run(context.Background(), Options{Rules: []rules.Rule{newsletterRule()}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(rep.Matches))
	}
	outcomes := rep.Matches[0].Outcomes
	if len(outcomes) != 1 || outcomes[0].Type != rules.Move || outcomes[0].Label != "Promotions" {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if !outcomes[0].OK() {
		t.Fatalf("move failed: %v", outcomes[0].Err())
	}
	if rep.RuleMatches["Newsletters"] != 1 || rep.FailedActions != 0 {
		t.Fatalf("unexpected counts %+v", rep)
	}
	if remote.createCalls != 1 || len(remote.modified) != 1 {
		t.Fatalf("expected one label create and one modify, got %d and %d", remote.createCalls, len(remote.modified))
	}
}

func TestRunAppliesAllMatchingRulesInOrder(t *testing.T) {
	app := &recordingApplier{}
	src := fakeSource{records: []store.Record{
		record("m1", "marketing@shop.com", "Newsletter deals", 24*time.Hour),
	}}
	readRule := rules.Rule{
		Name:       "Shop mail",
		Mode:       rules.ModeAll,
		Conditions: []rules.Condition{{Field: rules.FieldFrom, Predicate: rules.Contains, Text: "shop.com"}},
		Actions:    []rules.Action{{Type: rules.MarkAsRead}},
	}
	svc := newTestService(src, app)

	rep, err := svc.Run(context.Background(), Options{Rules: []rules.Rule{newsletterRule(), readRule}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Matches) != 2 {
		t.Fatalf("expected both rules to match, got %d", len(rep.Matches))
	}
	want := []string{"m1:move", "m1:mark_as_read"}
	if strings.Join(app.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", app.calls, want)
	}
}

func TestRunWorkersKeepStoreOrder(t *testing.T) {
	var recs []store.Record
	for i := 0; i < 20; i++ {
		recs = append(recs, record(fmt.Sprintf("m%02d", i), "a@b.com", "Monthly newsletter", time.Duration(i+1)*time.Hour))
	}
	app := &recordingApplier{}
	svc := newTestService(fakeSource{records: recs}, app)

	rep, err := svc.Run(context.Background(), Options{Rules: []rules.Rule{newsletterRule()}, Workers: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rep.Matches) != len(recs) {
		t.Fatalf("expected %d matches, got %d", len(recs), len(rep.Matches))
	}
	for i, m := range rep.Matches {
		if m.MessageID != recs[i].MessageID {
			t.Fatalf("match %d is %s, want %s", i, m.MessageID, recs[i].MessageID)
		}
	}
}

func TestRunRecordsFailuresWithoutAborting(t *testing.T) {
	remote := &fakeGmail{failModify: map[gmail.MessageID]bool{"m1": true}}
	resolver := labels.NewResolver(remote, nil, nil, slogDiscard())
	exec := actions.NewExecutor(remote, nopStore{}, resolver, nil, slogDiscard())
	src := fakeSource{records: []store.Record{
		record("m1", "x@shop.com", "Newsletter one", time.Hour),
		record("m2", "x@shop.com", "Newsletter two", 2*time.Hour),
	}}
	svc := newTestService(src, exec)

	rep, err := svc.Run(context.Background(), Options{Rules: []rules.Rule{newsletterRule()}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.FailedActions != 1 {
		t.Fatalf("failed actions = %d, want 1", rep.FailedActions)
	}
	if !rep.Matches[1].Outcomes[0].OK() {
		t.Fatalf("second record should still be moved")
	}
	if !strings.Contains(rep.HumanSummary(), "failed actions (1)") {
		t.Fatalf("summary missing failures:\n%s", rep.HumanSummary())
	}
}

func TestRunDryRunSkipsExecutor(t *testing.T) {
	app := &recordingApplier{}
	src := fakeSource{records: []store.Record{record("m1", "a@b.com", "newsletter", time.Hour)}}
	svc := newTestService(src, app)

	rep, err := svc.Run(context.Background(), Options{Rules: []rules.Rule{newsletterRule()}, DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(app.calls) != 0 {
		t.Fatalf("dry run must not apply actions: %v", app.calls)
	}
	if len(rep.Matches) != 1 || !rep.Matches[0].Outcomes[0].DryRun {
		t.Fatalf("expected a planned outcome, got %+v", rep.Matches)
	}
}

func TestRunZeroRules(t *testing.T) {
	app := &recordingApplier{}
	src := fakeSource{records: []store.Record{record("m1", "a@b.com", "hello", time.Hour)}}
	svc := newTestService(src, app)

	rep, err := svc.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Records != 1 || len(rep.Matches) != 0 || len(app.calls) != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestRunSourceErrorIsFatal(t *testing.T) {
	svc := newTestService(fakeSource{err: errors.New("db unreachable")}, &recordingApplier{})
	if _, err := svc.Run(context.Background(), Options{Rules: []rules.Rule{newsletterRule()}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := fakeSource{records: []store.Record{record("m1", "a@b.com", "newsletter", time.Hour)}}
	svc := newTestService(src, &recordingApplier{})
	if _, err := svc.Run(ctx, Options{Rules: []rules.Rule{newsletterRule()}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDeadRules(t *testing.T) {
	rep := Report{RuleMatches: map[string]int{"b": 0, "a": 0, "c": 3}}
	got := rep.DeadRules()
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("dead rules = %v", got)
	}
}

func TestWriteJSONRejectsUnsafePaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "empty", path: "  "},
		{name: "absolute", path: "/tmp/report.json"},
		{name: "escape", path: "../report.json"},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if err := WriteJSON(Report{}, tc.path); err == nil {
				t.Fatalf("expected error for %q", tc.path)
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	rep := Report{Records: 1, Matches: []Match{{MessageID: "m1", Rule: "r"}}}
	if err := WriteJSON(rep, "report.json"); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"message_id": "m1"`) {
		t.Fatalf("unexpected json:\n%s", data)
	}
}
