// Package seed generates sample records for trying rules without a mailbox.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/store"
)

const day = 24 * time.Hour

var (
	senders = []string{
		"marketing@company.com",
		"newsletter@deals.com",
		"boss@workplace.com",
		"client@important.com",
		"support@service.com",
		"noreply@automated.com",
		"friend@personal.com",
		"sales@promotion.com",
		"hr@company.com",
		"updates@news.com",
	}
	subjects = []string{
		"Weekly Newsletter - Special Offers Inside",
		"Important: Project Deadline Tomorrow",
		"Your monthly statement is ready",
		"RE: Meeting notes from yesterday",
		"Unsubscribe anytime - New products",
		"Urgent: Client needs response",
		"Team lunch this Friday?",
		"Marketing campaign results",
		"Your order has been shipped",
		"Quarterly review meeting invite",
		"Special discount just for you",
		"Important document attached",
		"Newsletter: This week in tech",
		"Automated report generated",
		"Follow up on our conversation",
	}
	bodies = []string{
		"This is an automated marketing email with special offers.",
		"Hi, just following up on the project we discussed.",
		"Please review the attached document and provide feedback.",
		"Our weekly newsletter with the latest updates.",
		"This is an important client request that needs attention.",
		"Automated system notification - no reply needed.",
		"Hey! Want to grab lunch this week?",
		"Here are the results from last quarter.",
		"Your subscription renewal is coming up.",
		"Thanks for your purchase! Track your order here.",
		"Important security update for your account.",
		"Meeting reminder: Tomorrow at 2 PM",
		"Check out our new product line!",
		"Unsubscribe link at the bottom of this email.",
		"Your report has been generated successfully.",
	}
)

// Store receives generated records.
type Store interface {
	Upsert(ctx context.Context, rec *store.Record) error
}

// Generator builds sample records. Received times are local wall-clock
// values without a zone, the way a hand-populated table usually looks.
type Generator struct {
	Store     Store
	Logger    *slog.Logger
	Clock     func() time.Time
	Rand      *rand.Rand
	Recipient string
}

// NewGenerator constructs a Generator with sane defaults.
func NewGenerator(st Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Generator{
		Store:     st,
		Logger:    logger,
		Clock:     time.Now,
		Rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		Recipient: "me@example.com",
	}
}

// Random returns n records drawn from the sample pools, received between
// 1 and 180 days ago.
func (g *Generator) Random(n int) []store.Record {
	now := g.Clock()
	out := make([]store.Record, 0, n)
	for i := 0; i < n; i++ {
		received := naive(now.Add(-time.Duration(g.Rand.IntN(180)+1) * day))
		out = append(out, store.Record{
			MessageID:     "seed-" + uuid.NewString(),
			ThreadID:      "thread-" + uuid.NewString()[:8],
			FromEmail:     pick(g.Rand, senders),
			ToEmail:       g.Recipient,
			Subject:       pick(g.Rand, subjects),
			MessageBody:   pick(g.Rand, bodies),
			ReceivedDate:  &received,
			ReceivedNaive: true,
			IsRead:        g.Rand.IntN(2) == 1,
			Labels:        store.Labels{string(gmail.LabelInbox)},
		})
	}
	return out
}

// Cases returns fixed records that exercise typical rules: marketing mail,
// a recent client mail, and old mail that should and should not be
// archived.
func (g *Generator) Cases() []store.Record {
	now := g.Clock()
	c := func(id, from, subject, body string, age int, read bool) store.Record {
		received := naive(now.Add(-time.Duration(age) * day))
		return store.Record{
			MessageID:     id,
			ThreadID:      "thread_" + id,
			FromEmail:     from,
			ToEmail:       g.Recipient,
			Subject:       subject,
			MessageBody:   body,
			ReceivedDate:  &received,
			ReceivedNaive: true,
			IsRead:        read,
			Labels:        store.Labels{string(gmail.LabelInbox)},
		}
	}
	return []store.Record{
		c("test_marketing_1", "marketing@shop.com", "Newsletter: Best deals this week",
			"Check out our amazing offers. Unsubscribe anytime.", 5, false),
		c("test_client_1", "client@business.com", "Project update needed",
			"Can you provide an update on the project status?", 3, true),
		c("test_old_1", "notifications@service.com", "Your monthly summary",
			"Here is your activity summary for the month.", 120, false),
		c("test_marketing_2", "noreply@marketing-team.com", "Special offer for you",
			"Limited time offer! Click here to unsubscribe.", 10, false),
		c("test_important_old", "boss@company.com", "Important: Annual review documents",
			"Please keep this for your records.", 100, false),
		c("test_automated_1", "noreply@automated.com", "Automated report generated",
			"Your weekly automated report is ready.", 2, false),
	}
}

// Insert upserts records and returns how many were stored.
func (g *Generator) Insert(ctx context.Context, recs []store.Record) (int, error) {
	for i := range recs {
		if err := g.Store.Upsert(ctx, &recs[i]); err != nil {
			return i, fmt.Errorf("insert %s: %w", recs[i].MessageID, err)
		}
	}
	g.Logger.InfoContext(ctx, "inserted sample records", "count", len(recs))
	return len(recs), nil
}

// naive drops the zone, keeping the local wall clock reading as UTC fields.
func naive(t time.Time) time.Time {
	l := t.In(time.Local)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, time.UTC)
}

func pick(r *rand.Rand, pool []string) string {
	return pool[r.IntN(len(pool))]
}
