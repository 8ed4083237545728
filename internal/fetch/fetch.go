// Package fetch copies Gmail messages into the local record store.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/rate"
	"github.com/joshsymonds/inboxrules/internal/store"
)

// MaxBodyChars caps the stored body length.
const MaxBodyChars = 5000

const maxPageSize = 500

// Client is the read side of the Gmail client.
type Client interface {
	List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error)
	GetMessage(ctx context.Context, id gmail.MessageID) (gmail.Message, error)
}

// Store receives fetched records.
type Store interface {
	Upsert(ctx context.Context, rec *store.Record) error
}

// Options controls one fetch.
type Options struct {
	Query    string
	Max      int
	PageSize int
}

// Result counts what a fetch did.
type Result struct {
	Listed int
	Stored int
	Failed int
}

// Fetcher lists messages, downloads each one and upserts it.
type Fetcher struct {
	Client  Client
	Store   Store
	Limiter rate.Limiter
	Logger  *slog.Logger
}

// NewFetcher constructs a Fetcher with sane defaults.
func NewFetcher(client Client, st Store, limiter rate.Limiter, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Fetcher{Client: client, Store: st, Limiter: limiter, Logger: logger}
}

// Run fetches up to opts.Max messages. A listing failure aborts the run; a
// failure on a single message is logged and counted.
func (f *Fetcher) Run(ctx context.Context, opts Options) (Result, error) {
	ids, err := f.list(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	res := Result{Listed: len(ids)}
	f.Logger.InfoContext(ctx, "fetching messages", "count", len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("fetch messages: %w", err)
		}
		if err := f.fetchOne(ctx, id); err != nil {
			res.Failed++
			f.Logger.WarnContext(ctx, "fetch message failed", "message", id, "error", err)
			continue
		}
		res.Stored++
		if (i+1)%10 == 0 {
			f.Logger.DebugContext(ctx, "fetch progress", "done", i+1, "total", len(ids))
		}
	}
	f.Logger.InfoContext(ctx, "fetch finished", "stored", res.Stored, "failed", res.Failed)
	return res, nil
}

func (f *Fetcher) list(ctx context.Context, opts Options) ([]gmail.MessageID, error) {
	limit := opts.Max
	if limit <= 0 {
		limit = 100
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageSize > limit {
		pageSize = limit
	}
	var (
		ids   []gmail.MessageID
		token string
	)
	for len(ids) < limit {
		if err := rate.Wait(ctx, f.Limiter, "rate limit list"); err != nil {
			return nil, err
		}
		page, err := f.Client.List(ctx, gmail.Query{Raw: opts.Query}, token, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, id gmail.MessageID) error {
	if err := rate.Wait(ctx, f.Limiter, "rate limit get"); err != nil {
		return err
	}
	msg, err := f.Client.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("get message %s: %w", id, err)
	}
	rec := ToRecord(msg)
	if err := f.Store.Upsert(ctx, &rec); err != nil {
		return fmt.Errorf("store message %s: %w", id, err)
	}
	return nil
}

// ToRecord maps a fetched message onto a store record.
func ToRecord(msg gmail.Message) store.Record {
	labels := make(store.Labels, 0, len(msg.LabelIDs))
	for _, l := range msg.LabelIDs {
		labels = append(labels, string(l))
	}
	rec := store.Record{
		MessageID:   string(msg.ID),
		ThreadID:    msg.ThreadID,
		FromEmail:   msg.Headers["From"],
		ToEmail:     msg.Headers["To"],
		Subject:     msg.Headers["Subject"],
		MessageBody: truncate(body(msg), MaxBodyChars),
		IsRead:      !msg.HasLabel(gmail.LabelUnread),
		Labels:      labels,
	}
	if t, ok := receivedAt(msg); ok {
		rec.ReceivedDate = &t
	}
	return rec
}

func body(msg gmail.Message) string {
	if strings.TrimSpace(msg.TextBody) != "" {
		return msg.TextBody
	}
	if msg.HTMLBody != "" {
		return html2text.HTML2Text(msg.HTMLBody)
	}
	return ""
}

func receivedAt(msg gmail.Message) (time.Time, bool) {
	if raw := strings.TrimSpace(msg.Headers["Date"]); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t, true
		}
	}
	if !msg.InternalDate.IsZero() && msg.InternalDate.Unix() > 0 {
		return msg.InternalDate, true
	}
	return time.Time{}, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
