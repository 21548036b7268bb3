// Package monitor drives the per-cycle pipeline: fetch recent posts, decide
// which one (if any) is new, persist it and forward it to the notifier.
//
// A single sequential worker owns the whole cycle; nothing here runs
// concurrently. At most one post is delivered per cycle: after downtime the
// source may return several unseen posts, and delivering only the newest
// keeps the channel from being flooded with backlog. Older missed posts are
// never backfilled.
//
// Running two monitor instances against the same ledger is not a supported
// configuration: the ledger upsert keeps duplicate rows out, but nothing
// prevents both instances from delivering the same post once each.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BTreeMap/TruthWatch/internal/message"
	"github.com/BTreeMap/TruthWatch/internal/models"
	"github.com/BTreeMap/TruthWatch/internal/notify"
	"github.com/BTreeMap/TruthWatch/internal/store"
)

// Fetcher yields the monitored account's recent posts. Implementations never
// return an error; a failed fetch is an empty slice.
type Fetcher interface {
	RecentPosts(ctx context.Context) []models.Post
}

// Formatter renders a post into the outbound message text.
// message.Formatter is the production implementation.
type Formatter interface {
	Format(post models.Post) (string, error)
}

// Monitor ties the fetch gateway, ledger, seen-cache and notifier together
// on a fixed polling interval.
type Monitor struct {
	fetcher   Fetcher
	ledger    store.Ledger
	seen      *store.SeenCache
	notifier  notify.Notifier
	formatter Formatter
	interval  time.Duration
}

// New builds a monitor. The seen cache starts empty; the ledger carries the
// processed state across restarts.
func New(fetcher Fetcher, ledger store.Ledger, seen *store.SeenCache, notifier notify.Notifier, formatter Formatter, interval time.Duration) *Monitor {
	return &Monitor{
		fetcher:   fetcher,
		ledger:    ledger,
		seen:      seen,
		notifier:  notifier,
		formatter: formatter,
		interval:  interval,
	}
}

// Run executes cycles until the context is cancelled. A cycle fully
// completes (or fails) before the fixed wait starts; cycle errors are logged
// and never stop the loop.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("Monitor.Run: starting poll loop", "interval", m.interval)
	for {
		if err := m.RunCycle(ctx); err != nil {
			slog.Error("Monitor.Run: cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Monitor.Run: stopping")
			return
		case <-time.After(m.interval):
		}
	}
}

// RunCycle performs one fetch-classify-deliver pass. It returns an error
// only when a delivery attempt failed; everything else is handled in place.
func (m *Monitor) RunCycle(ctx context.Context) error {
	posts := m.fetcher.RecentPosts(ctx)
	if len(posts) == 0 {
		return nil
	}

	// Newest first: only the most recent unseen post is delivered.
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})

	for _, post := range posts {
		if post.ID == "" {
			slog.Warn("Monitor.RunCycle: skipping malformed post without id")
			continue
		}
		if m.alreadyProcessed(post.ID) {
			slog.Debug("Monitor.RunCycle: post already processed", "id", post.ID)
			continue
		}
		if message.IsRepost(post.Content) {
			m.recordRepost(post)
			continue
		}

		// First deliverable candidate: deliver it and end the cycle.
		delivered, err := m.deliver(ctx, post)
		if err != nil {
			return err
		}
		if delivered {
			return nil
		}
		// Formatting failed; the next (older) post gets its chance.
	}
	return nil
}

// alreadyProcessed checks the volatile cache first, then the ledger. A
// ledger hit is backfilled into the cache; a ledger error degrades to
// cache-only knowledge.
func (m *Monitor) alreadyProcessed(id string) bool {
	if m.seen.Contains(id) {
		return true
	}
	recorded, err := m.ledger.IsRecorded(id)
	if err != nil {
		slog.Error("Monitor: ledger lookup failed, relying on cache only", "id", id, "error", err)
		return false
	}
	if recorded {
		m.seen.Add(id)
	}
	return recorded
}

// recordRepost marks a repost as processed without ever delivering it.
func (m *Monitor) recordRepost(post models.Post) {
	slog.Info("Monitor: repost detected, recording without delivery", "id", post.ID)
	m.seen.Add(post.ID)
	if _, err := m.ledger.Record(post); err != nil {
		slog.Debug("Monitor: could not record repost (non-critical)", "id", post.ID, "error", err)
	}
}

// deliver formats, records and notifies a single post. It reports false
// (with nil error) when formatting failed and the caller should try the next
// post. On delivery failure the seen-cache entry is rolled back — the ledger
// record, if it landed, stays, since the upsert makes a later retry safe —
// and the error surfaces so the cycle logs it.
func (m *Monitor) deliver(ctx context.Context, post models.Post) (bool, error) {
	msg, err := m.formatter.Format(post)
	if err != nil {
		slog.Warn("Monitor: could not format post, skipping", "id", post.ID, "error", err)
		return false, nil
	}

	slog.Info("Monitor: processing new post", "id", post.ID)
	if _, err := m.ledger.Record(post); err != nil {
		// Non-fatal: deliver anyway so the post is not silently missed;
		// the seen cache prevents duplicates for this process lifetime.
		slog.Error("Monitor: ledger record failed, delivering anyway", "id", post.ID, "error", err)
	}
	m.seen.Add(post.ID)

	if err := m.notifier.Deliver(ctx, msg, post.RelayableMedia()); err != nil {
		m.seen.Remove(post.ID)
		return false, fmt.Errorf("delivery failed for post %s: %w", post.ID, err)
	}
	slog.Info("Monitor: delivered newest post, stopping cycle here", "id", post.ID)
	return true, nil
}
