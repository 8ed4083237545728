// Package actions applies a matched rule's actions to Gmail and mirrors
// them into the local store.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/metrics"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/rules"
)

// Modifier mutates a message's label set remotely.
type Modifier interface {
	Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error
}

// LabelResolver maps a label name to its remote ID.
type LabelResolver interface {
	Resolve(ctx context.Context, name string) (gmail.LabelID, error)
}

// Store is the local side of an action.
type Store interface {
	SetRead(ctx context.Context, messageID string, read bool) error
	MoveLabels(ctx context.Context, messageID, add, remove string) error
}

// ErrStoreSkipped is recorded as the store error when the remote step
// failed and the store was left untouched.
var ErrStoreSkipped = errors.New("store update skipped after remote failure")

// Outcome is the result of one action. The remote and store steps fail
// independently.
type Outcome struct {
	Type      rules.ActionType
	Label     string
	LabelID   gmail.LabelID
	RemoteErr error
	StoreErr  error
	DryRun    bool
}

// OK reports whether both steps succeeded.
func (o Outcome) OK() bool { return o.RemoteErr == nil && o.StoreErr == nil }

// Err joins the step errors.
func (o Outcome) Err() error { return errors.Join(o.RemoteErr, o.StoreErr) }

func (o Outcome) result() string {
	switch {
	case o.DryRun:
		return "dry_run"
	case o.RemoteErr != nil:
		return "failed"
	case o.StoreErr != nil:
		return "store_failed"
	default:
		return "ok"
	}
}

// MarshalJSON renders errors as strings.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Type        rules.ActionType `json:"type"`
		Label       string           `json:"label,omitempty"`
		LabelID     gmail.LabelID    `json:"label_id,omitempty"`
		Result      string           `json:"result"`
		RemoteError string           `json:"remote_error,omitempty"`
		StoreError  string           `json:"store_error,omitempty"`
	}{Type: o.Type, Label: o.Label, LabelID: o.LabelID, Result: o.result()}
	if o.RemoteErr != nil {
		out.RemoteError = o.RemoteErr.Error()
	}
	if o.StoreErr != nil {
		out.StoreError = o.StoreErr.Error()
	}
	return json.Marshal(out)
}

// Executor applies actions one by one. A failing action never stops the
// ones after it.
type Executor struct {
	Remote  Modifier
	Store   Store
	Labels  LabelResolver
	Limiter rate.Limiter
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	DryRun  bool
}

// NewExecutor constructs an Executor with sane defaults.
func NewExecutor(remote Modifier, st Store, labels LabelResolver, limiter rate.Limiter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Executor{Remote: remote, Store: st, Labels: labels, Limiter: limiter, Logger: logger}
}

// Apply runs actions against the message in order and returns one outcome
// per action.
func (e *Executor) Apply(ctx context.Context, messageID string, actions []rules.Action) []Outcome {
	outcomes := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		o := e.apply(ctx, messageID, a)
		e.Metrics.Action(string(a.Type), o.result())
		if o.OK() {
			e.Logger.InfoContext(ctx, "applied action", "message", messageID, "action", a.Type, "label", o.Label, "dry_run", o.DryRun)
		} else {
			e.Logger.WarnContext(ctx, "action failed", "message", messageID, "action", a.Type, "label", o.Label, "error", o.Err())
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (e *Executor) apply(ctx context.Context, messageID string, a rules.Action) Outcome {
	o := Outcome{Type: a.Type, Label: a.Destination, DryRun: e.DryRun}
	if e.DryRun {
		return o
	}
	id := gmail.MessageID(messageID)
	switch a.Type {
	case rules.MarkAsRead:
		o.RemoteErr = e.modify(ctx, id, gmail.ModifyOps{RemoveLabels: []gmail.LabelID{gmail.LabelUnread}})
		o.StoreErr = e.storeStep(o.RemoteErr, func() error { return e.Store.SetRead(ctx, messageID, true) })
	case rules.MarkAsUnread:
		o.RemoteErr = e.modify(ctx, id, gmail.ModifyOps{AddLabels: []gmail.LabelID{gmail.LabelUnread}})
		o.StoreErr = e.storeStep(o.RemoteErr, func() error { return e.Store.SetRead(ctx, messageID, false) })
	case rules.Move:
		labelID, err := e.Labels.Resolve(ctx, a.Destination)
		if err != nil {
			o.RemoteErr = err
		} else {
			o.LabelID = labelID
			o.RemoteErr = e.modify(ctx, id, gmail.ModifyOps{
				AddLabels:    []gmail.LabelID{labelID},
				RemoveLabels: []gmail.LabelID{gmail.LabelInbox},
			})
		}
		o.StoreErr = e.storeStep(o.RemoteErr, func() error {
			return e.Store.MoveLabels(ctx, messageID, string(o.LabelID), string(gmail.LabelInbox))
		})
	default:
		o.RemoteErr = fmt.Errorf("unknown action type %q", a.Type)
	}
	return o
}

func (e *Executor) modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	if err := rate.Wait(ctx, e.Limiter, "rate limit modify"); err != nil {
		return err
	}
	if err := e.Remote.Modify(ctx, id, ops); err != nil {
		return fmt.Errorf("modify %s: %w", id, err)
	}
	return nil
}

func (e *Executor) storeStep(remoteErr error, step func() error) error {
	if remoteErr != nil {
		return ErrStoreSkipped
	}
	if e.Store == nil {
		return nil
	}
	return step()
}
