package fetch

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSolver runs an httptest server that speaks the FlareSolverr protocol
// and routes upstream URLs to the given handler.
func fakeSolver(t *testing.T, upstream func(target string) (string, bool)) *SolverClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req solverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad solver payload: %v", err)
		}
		if req.Cmd != "request.get" {
			t.Errorf("cmd = %q, want request.get", req.Cmd)
		}
		body, ok := upstream(req.URL)
		status, msg := "ok", ""
		if !ok {
			status, msg = "error", "upstream failed"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"message": msg,
			"solution": map[string]any{
				"status":   200,
				"response": body,
			},
		})
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return NewSolverClient(host, port, 5*time.Second, 0)
}

func TestGatewayFetchesRecentPosts(t *testing.T) {
	var lookups atomic.Int64
	solver := fakeSolver(t, func(target string) (string, bool) {
		switch {
		case strings.Contains(target, "/api/v1/accounts/lookup"):
			lookups.Add(1)
			if !strings.Contains(target, "acct=someuser") {
				t.Errorf("lookup URL missing acct param: %s", target)
			}
			return `{"id":"123"}`, true
		case strings.Contains(target, "/api/v1/accounts/123/statuses"):
			for _, param := range []string{"exclude_replies=true", "exclude_reblogs=true", "limit=5"} {
				if !strings.Contains(target, param) {
					t.Errorf("statuses URL missing %s: %s", param, target)
				}
			}
			return `[{"id":"1","created_at":"2024-01-01T00:00:00Z","content":"<p>Hello</p>","account":{"username":"someuser"}}]`, true
		default:
			t.Errorf("unexpected upstream URL: %s", target)
			return "", false
		}
	})

	g := NewGateway(solver, "truthsocial.com", "someuser")
	posts := g.RecentPosts(context.Background())
	if len(posts) != 1 || posts[0].ID != "1" {
		t.Fatalf("unexpected posts: %+v", posts)
	}

	// Second fetch reuses the cached account id.
	g.RecentPosts(context.Background())
	if lookups.Load() != 1 {
		t.Errorf("lookup count = %d, want 1 (account id should be cached)", lookups.Load())
	}
}

func TestGatewayInvalidatesAccountIDOnError(t *testing.T) {
	var lookups atomic.Int64
	failStatuses := true
	solver := fakeSolver(t, func(target string) (string, bool) {
		if strings.Contains(target, "lookup") {
			lookups.Add(1)
			return `{"id":"123"}`, true
		}
		if failStatuses {
			return "", false
		}
		return `[]`, true
	})

	g := NewGateway(solver, "truthsocial.com", "someuser")
	if posts := g.RecentPosts(context.Background()); posts != nil {
		t.Errorf("expected nil posts on fetch error, got %+v", posts)
	}

	// The cached id was invalidated, so the next cycle re-resolves it.
	failStatuses = false
	g.RecentPosts(context.Background())
	if lookups.Load() != 2 {
		t.Errorf("lookup count = %d, want 2 after invalidation", lookups.Load())
	}
}

func TestGatewayEmptyOnUnreachableSolver(t *testing.T) {
	solver := NewSolverClient("127.0.0.1", 1, 200*time.Millisecond, 0)
	g := NewGateway(solver, "truthsocial.com", "someuser")
	if posts := g.RecentPosts(context.Background()); posts != nil {
		t.Errorf("expected nil posts when solver is unreachable, got %+v", posts)
	}
}
