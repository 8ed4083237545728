// Package process drives a rules run: every stored record is evaluated
// against every rule and the actions of each matching rule are applied.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/inboxrules/internal/actions"
	"github.com/joshsymonds/inboxrules/internal/metrics"
	"github.com/joshsymonds/inboxrules/internal/rules"
	"github.com/joshsymonds/inboxrules/internal/store"
)

// Source yields the records to process, newest first.
type Source interface {
	AllByReceivedDesc(ctx context.Context) ([]store.Record, error)
}

// Applier executes a rule's actions against one message.
type Applier interface {
	Apply(ctx context.Context, messageID string, acts []rules.Action) []actions.Outcome
}

// Options controls one run.
type Options struct {
	Rules   []rules.Rule
	DryRun  bool
	Workers int
}

// Service evaluates stored records against rules.
type Service struct {
	Source   Source
	Executor Applier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(src Source, exec Applier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Source:   src,
		Executor: exec,
		Logger:   logger,
		Clock:    time.Now,
	}
}

// Run processes every record. Action failures are recorded in the report;
// only a source failure or cancellation makes Run return an error.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	records, err := s.Source.AllByReceivedDesc(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load records: %w", err)
	}
	now := s.Clock()
	rep := Report{
		GeneratedAt: now,
		DryRun:      opts.DryRun,
		Records:     len(records),
		Rules:       len(opts.Rules),
		RuleMatches: make(map[string]int, len(opts.Rules)),
	}
	for _, r := range opts.Rules {
		rep.RuleMatches[r.Name] = 0
	}
	s.Logger.InfoContext(ctx, "processing records",
		"records", len(records), "rules", len(opts.Rules), "dry_run", opts.DryRun)
	if len(records) == 0 || len(opts.Rules) == 0 {
		return rep, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	perRecord := make([][]Match, len(records))
	if workers == 1 {
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return Report{}, fmt.Errorf("process records: %w", err)
			}
			perRecord[i] = s.processRecord(ctx, rec, opts, now)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, rec := range records {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				perRecord[i] = s.processRecord(gctx, rec, opts, now)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Report{}, fmt.Errorf("process records: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return Report{}, fmt.Errorf("process records: %w", err)
		}
	}

	for _, matches := range perRecord {
		for _, m := range matches {
			rep.Matches = append(rep.Matches, m)
			rep.RuleMatches[m.Rule]++
			for _, o := range m.Outcomes {
				if !o.OK() {
					rep.FailedActions++
				}
			}
		}
	}
	s.Logger.InfoContext(ctx, "processing finished",
		"records", rep.Records, "matches", len(rep.Matches), "failed_actions", rep.FailedActions)
	return rep, nil
}

func (s *Service) processRecord(ctx context.Context, rec store.Record, opts Options, now time.Time) []Match {
	s.Metrics.Record()
	fields := rec.Fields()
	var matches []Match
	for _, rule := range opts.Rules {
		if !rules.Matches(fields, rule, now) {
			continue
		}
		s.Metrics.Match(rule.Name)
		s.Logger.DebugContext(ctx, "rule matched", "rule", rule.Name, "message", rec.MessageID)
		var outcomes []actions.Outcome
		if opts.DryRun {
			outcomes = planned(rule.Actions)
		} else {
			outcomes = s.Executor.Apply(ctx, rec.MessageID, rule.Actions)
		}
		matches = append(matches, Match{
			MessageID: rec.MessageID,
			Subject:   rec.Subject,
			Rule:      rule.Name,
			Outcomes:  outcomes,
		})
	}
	return matches
}

func planned(acts []rules.Action) []actions.Outcome {
	out := make([]actions.Outcome, 0, len(acts))
	for _, a := range acts {
		out = append(out, actions.Outcome{Type: a.Type, Label: a.Destination, DryRun: true})
	}
	return out
}
