package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/BTreeMap/TruthWatch/internal/models"
)

// DefaultFetchLimit bounds how many recent posts are requested per cycle.
// Only the newest unseen post is delivered, so a small window is enough.
const DefaultFetchLimit = 5

// Gateway fetches the monitored account's recent posts from a
// Mastodon-compatible instance through the challenge solver.
//
// The account's numeric id is resolved once and cached in process memory;
// any fetch error invalidates the cached id so the next cycle re-resolves
// it, in case the id went stale.
type Gateway struct {
	solver   *SolverClient
	instance string
	username string
	limit    int

	accountID string
}

// NewGateway builds a gateway for one account on one instance.
func NewGateway(solver *SolverClient, instance, username string) *Gateway {
	return &Gateway{
		solver:   solver,
		instance: instance,
		username: username,
		limit:    DefaultFetchLimit,
	}
}

// RecentPosts returns the account's latest posts, excluding replies and
// reblogs at the source. It never returns an error: any failure is logged,
// the cached account id is invalidated and an empty slice is returned.
func (g *Gateway) RecentPosts(ctx context.Context) []models.Post {
	posts, err := g.recentPosts(ctx)
	if err != nil {
		slog.Error("Gateway.RecentPosts failed", "account", g.username, "error", err)
		// The cached id may be the stale piece; re-resolve next cycle.
		g.accountID = ""
		return nil
	}
	slog.Info("Gateway.RecentPosts: retrieved posts", "account", g.username, "count", len(posts))
	return posts
}

func (g *Gateway) recentPosts(ctx context.Context) ([]models.Post, error) {
	id, err := g.resolveAccountID(ctx)
	if err != nil {
		return nil, err
	}

	statusesURL := fmt.Sprintf("https://%s/api/v1/accounts/%s/statuses", g.instance, id)
	params := url.Values{
		"exclude_replies": {"true"},
		"exclude_reblogs": {"true"},
		"limit":           {fmt.Sprintf("%d", g.limit)},
	}
	resp, err := g.solver.Get(ctx, statusesURL, g.browserHeaders(), params)
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := resp.DecodeJSON(&posts); err != nil {
		return nil, fmt.Errorf("invalid statuses response: %w", err)
	}
	return posts, nil
}

// resolveAccountID returns the cached account id, looking it up on first use.
func (g *Gateway) resolveAccountID(ctx context.Context) (string, error) {
	if g.accountID != "" {
		return g.accountID, nil
	}

	lookupURL := fmt.Sprintf("https://%s/api/v1/accounts/lookup", g.instance)
	params := url.Values{"acct": {g.username}}
	resp, err := g.solver.Get(ctx, lookupURL, g.browserHeaders(), params)
	if err != nil {
		return "", err
	}

	var account struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&account); err != nil {
		return "", fmt.Errorf("invalid account lookup response: %w", err)
	}
	if account.ID == "" {
		return "", fmt.Errorf("could not find account id for %s", g.username)
	}
	g.accountID = account.ID
	slog.Debug("Gateway.resolveAccountID: cached account id", "account", g.username, "id", account.ID)
	return account.ID, nil
}

// browserHeaders mimics a real browser so the instance serves the API
// instead of a challenge page.
func (g *Gateway) browserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Accept":          "application/json",
		"Accept-Language": "en-US,en;q=0.5",
		"Referer":         fmt.Sprintf("https://%s/@%s", g.instance, g.username),
		"Origin":          fmt.Sprintf("https://%s", g.instance),
	}
}
