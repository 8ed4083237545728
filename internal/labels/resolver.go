// Package labels resolves human label names to Gmail label IDs, creating
// missing labels on demand.
package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/joshsymonds/inboxrules/internal/gmail"
	"github.com/joshsymonds/inboxrules/internal/metrics"
	"github.com/joshsymonds/inboxrules/internal/rate"
)

// Remote is the part of the Gmail client the resolver needs.
type Remote interface {
	ListLabels(ctx context.Context) ([]gmail.Label, error)
	CreateLabel(ctx context.Context, name string, vis gmail.Visibility) (gmail.LabelID, error)
}

// Cache maps lower-cased label names to IDs for the lifetime of one run.
// It is safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	ids map[string]gmail.LabelID
}

func NewCache() *Cache {
	return &Cache{ids: map[string]gmail.LabelID{}}
}

func (c *Cache) Get(name string) (gmail.LabelID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.ids[key(name)]
	return id, ok
}

func (c *Cache) Put(name string, id gmail.LabelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key(name)] = id
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolver looks label names up in the cache, then remotely, and creates
// them when absent. Concurrent calls for the same name share one lookup.
type Resolver struct {
	Remote     Remote
	Cache      *Cache
	Limiter    rate.Limiter
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Visibility gmail.Visibility

	flights singleflight.Group
}

// NewResolver constructs a Resolver with sane defaults. A nil cache gets a
// fresh one.
func NewResolver(remote Remote, cache *Cache, limiter rate.Limiter, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Resolver{
		Remote:     remote,
		Cache:      cache,
		Limiter:    limiter,
		Logger:     logger,
		Visibility: gmail.DefaultVisibility(),
	}
}

// Resolve returns the ID of the label called name, matching
// case-insensitively and creating the label if it does not exist.
func (r *Resolver) Resolve(ctx context.Context, name string) (gmail.LabelID, error) {
	k := key(name)
	if k == "" {
		return "", errors.New("resolve label: empty name")
	}
	if id, ok := r.Cache.Get(k); ok {
		r.Metrics.Label(metrics.LabelCache)
		return id, nil
	}
	v, err, _ := r.flights.Do(k, func() (any, error) {
		if id, ok := r.Cache.Get(k); ok {
			r.Metrics.Label(metrics.LabelCache)
			return id, nil
		}
		id, source, err := r.lookupOrCreate(ctx, strings.TrimSpace(name))
		if err != nil {
			r.Metrics.Label(metrics.LabelError)
			return gmail.LabelID(""), err
		}
		r.Cache.Put(k, id)
		r.Metrics.Label(source)
		r.Logger.DebugContext(ctx, "resolved label", "label", name, "id", id, "source", source)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(gmail.LabelID), nil
}

func (r *Resolver) lookupOrCreate(ctx context.Context, name string) (gmail.LabelID, string, error) {
	id, found, listErr := r.find(ctx, name)
	if found {
		return id, metrics.LabelRemote, nil
	}
	if listErr != nil {
		r.Logger.WarnContext(ctx, "label lookup failed, trying create", "label", name, "error", listErr)
	}

	id, createErr := r.create(ctx, name)
	if createErr == nil {
		r.Logger.InfoContext(ctx, "created label", "label", name, "id", id)
		return id, metrics.LabelCreated, nil
	}
	if errors.Is(createErr, gmail.ErrLabelConflict) {
		// someone else created it between our list and create
		id, found, err := r.find(ctx, name)
		if found {
			return id, metrics.LabelAdopted, nil
		}
		if err != nil {
			createErr = errors.Join(createErr, err)
		}
	}
	return "", "", fmt.Errorf("resolve label %q: %w", name, errors.Join(listErr, createErr))
}

func (r *Resolver) find(ctx context.Context, name string) (gmail.LabelID, bool, error) {
	if err := rate.Wait(ctx, r.Limiter, "rate limit labels"); err != nil {
		return "", false, err
	}
	labels, err := r.Remote.ListLabels(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(l.Name), name) {
			return l.ID, true, nil
		}
	}
	return "", false, nil
}

func (r *Resolver) create(ctx context.Context, name string) (gmail.LabelID, error) {
	if err := rate.Wait(ctx, r.Limiter, "rate limit create label"); err != nil {
		return "", err
	}
	return r.Remote.CreateLabel(ctx, name, r.Visibility)
}
