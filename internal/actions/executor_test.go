package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

type modifyCall struct {
	id  gmail.MessageID
	ops gmail.ModifyOps
}

type fakeModifier struct {
	calls []modifyCall
	// errs is consumed one per call; nil entries succeed.
	errs []error
}

func (f *fakeModifier) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	f.calls = append(f.calls, modifyCall{id: id, ops: ops})
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeStore struct {
	reads    map[string]bool
	moves    []string
	setErr   error
	moveErr  error
	setCalls int
}

func (f *fakeStore) SetRead(ctx context.Context, messageID string, read bool) error {
	_ = ctx
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	if f.reads == nil {
		f.reads = map[string]bool{}
	}
	f.reads[messageID] = read
	return nil
}

func (f *fakeStore) MoveLabels(ctx context.Context, messageID, add, remove string) error {
	_ = ctx
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, messageID+":+"+add+":-"+remove)
	return nil
}

type fakeResolver struct {
	ids map[string]gmail.LabelID
	err error
}

func (f fakeResolver) Resolve(ctx context.Context, name string) (gmail.LabelID, error) {
	_ = ctx
	if f.err != nil {
		return "", f.err
	}
	return f.ids[strings.ToLower(name)], nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(m *fakeModifier, s *fakeStore, r LabelResolver) *Executor {
	return NewExecutor(m, s, r, nil, slogDiscard())
}

func TestApplyMarkAsRead(t *testing.T) {
	mod := &fakeModifier{}
	st := &fakeStore{}
	ex := newTestExecutor(mod, st, fakeResolver{})

	out := ex.Apply(context.Background(), "m1", []rules.Action{{Type: rules.MarkAsRead}})
	if len(out) != 1 || !out[0].OK() {
		t.Fatalf("unexpected outcomes %+v", out)
	}
	if len(mod.calls) != 1 {
		t.Fatalf("expected 1 modify call, got %d", len(mod.calls))
	}
	call := mod.calls[0]
	if call.id != "m1" || len(call.ops.RemoveLabels) != 1 || call.ops.RemoveLabels[0] != gmail.LabelUnread {
		t.Fatalf("unexpected modify call %+v", call)
	}
	if read, ok := st.reads["m1"]; !ok || !read {
		t.Fatalf("store not updated to read: %+v", st.reads)
	}
}

func TestApplyMarkAsUnread(t *testing.T) {
	mod := &fakeModifier{}
	st := &fakeStore{}
	ex := newTestExecutor(mod, st, fakeResolver{})

	out := ex.Apply(context.Background(), "m1", []rules.Action{{Type: rules.MarkAsUnread}})
	if !out[0].OK() {
		t.Fatalf("unexpected outcome %+v", out[0])
	}
	call := mod.calls[0]
	if len(call.ops.AddLabels) != 1 || call.ops.AddLabels[0] != gmail.LabelUnread {
		t.Fatalf("unexpected modify call %+v", call)
	}
	if read, ok := st.reads["m1"]; !ok || read {
		t.Fatalf("store not updated to unread: %+v", st.reads)
	}
}

func TestApplyMove(t *testing.T) {
	mod := &fakeModifier{}
	st := &fakeStore{}
	ex := newTestExecutor(mod, st, fakeResolver{ids: map[string]gmail.LabelID{"promotions": "Label_7"}})

	out := ex.Apply(context.Background(), "m1", []rules.Action{{Type: rules.Move, Destination: "Promotions"}})
	o := out[0]
	if !o.OK() || o.Label != "Promotions" || o.LabelID != "Label_7" {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if len(mod.calls) != 1 {
		t.Fatalf("move must be a single modify call, got %d", len(mod.calls))
	}
	ops := mod.calls[0].ops
	if len(ops.AddLabels) != 1 || ops.AddLabels[0] != "Label_7" {
		t.Fatalf("unexpected add labels %+v", ops.AddLabels)
	}
	if len(ops.RemoveLabels) != 1 || ops.RemoveLabels[0] != gmail.LabelInbox {
		t.Fatalf("unexpected remove labels %+v", ops.RemoveLabels)
	}
	if len(st.moves) != 1 || st.moves[0] != "m1:+Label_7:-INBOX" {
		t.Fatalf("store move not mirrored: %+v", st.moves)
	}
}

func TestApplyContinuesAfterFailure(t *testing.T) {
	mod := &fakeModifier{errs: []error{errors.New("backend error")}}
	st := &fakeStore{}
	ex := newTestExecutor(mod, st, fakeResolver{})

	out := ex.Apply(context.Background(), "m1", []rules.Action{
		{Type: rules.MarkAsRead},
		{Type: rules.MarkAsUnread},
	})
	if len(out) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(out))
	}
	if out[0].RemoteErr == nil {
		t.Fatalf("first action should fail")
	}
	if !errors.Is(out[0].StoreErr, ErrStoreSkipped) {
		t.Fatalf("store step should be skipped after remote failure, got %v", out[0].StoreErr)
	}
	if !out[1].OK() {
		t.Fatalf("second action should succeed independently: %+v", out[1])
	}
	if len(mod.calls) != 2 {
		t.Fatalf("second action was not attempted")
	}
	if st.setCalls != 1 || st.reads["m1"] {
		t.Fatalf("only the second action should reach the store: calls=%d reads=%+v", st.setCalls, st.reads)
	}
}

func TestApplyMoveResolutionFailure(t *testing.T) {
	mod := &fakeModifier{}
	st := &fakeStore{}
	ex := newTestExecutor(mod, st, fakeResolver{err: errors.New("labels unavailable")})

	out := ex.Apply(context.Background(), "m1", []rules.Action{
		{Type: rules.Move, Destination: "Promotions"},
		{Type: rules.MarkAsRead},
	})
	if out[0].RemoteErr == nil || len(st.moves) != 0 {
		t.Fatalf("move should fail without touching the store: %+v", out[0])
	}
	if !out[1].OK() {
		t.Fatalf("mark_as_read should still run: %+v", out[1])
	}
	if len(mod.calls) != 1 {
		t.Fatalf("expected only the mark_as_read modify call, got %d", len(mod.calls))
	}
}

func TestApplyStoreFailureIsReportedSeparately(t *testing.T) {
	mod := &fakeModifier{}
	st := &fakeStore{setErr: errors.New("db down")}
	ex := newTestExecutor(mod, st, fakeResolver{})

	out := ex.Apply(context.Background(), "m1", []rules.Action{{Type: rules.MarkAsRead}})
	if out[0].RemoteErr != nil {
		t.Fatalf("remote step should succeed: %v", out[0].RemoteErr)
	}
	if out[0].StoreErr == nil {
		t.Fatalf("store error should be recorded")
	}
}

func TestApplyDryRun(t *testing.T) {
	mod := &fakeModifier{}
	st := &fakeStore{}
	ex := newTestExecutor(mod, st, fakeResolver{err: errors.New("should not be called")})
	ex.DryRun = true

	out := ex.Apply(context.Background(), "m1", []rules.Action{
		{Type: rules.MarkAsRead},
		{Type: rules.Move, Destination: "Promotions"},
	})
	if len(out) != 2 || !out[0].DryRun || !out[1].OK() {
		t.Fatalf("unexpected dry-run outcomes %+v", out)
	}
	if len(mod.calls) != 0 || st.setCalls != 0 || len(st.moves) != 0 {
		t.Fatalf("dry run must not mutate anything")
	}
}

func TestOutcomeJSON(t *testing.T) {
	o := Outcome{Type: rules.Move, Label: "Promotions", RemoteErr: errors.New("boom"), StoreErr: ErrStoreSkipped}
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["result"] != "failed" || decoded["remote_error"] != "boom" || decoded["label"] != "Promotions" {
		t.Fatalf("unexpected json %s", data)
	}
}
