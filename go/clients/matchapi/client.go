// Package matchapi is the HTTP client for the match API, used by coach
// and viewer processes that do not hold the store themselves.
package matchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcdev12/wissel/go/clients"
	"github.com/mcdev12/wissel/go/internal/api"
	"github.com/mcdev12/wissel/go/internal/match/code"
	"github.com/mcdev12/wissel/go/internal/models"
	"github.com/mcdev12/wissel/go/internal/store"
)

type Client struct {
	*clients.BaseClient
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseClient: clients.NewBaseClient(strings.TrimRight(baseURL, "/")),
	}
}

func matchPath(c string) string {
	return "/api/match/" + url.PathEscape(code.Canonical(c))
}

// mapError turns a 404 into store.ErrNotFound so callers can treat the
// remote the same as a local repository.
func mapError(op, c string, err error) error {
	if err == nil {
		return nil
	}
	var se *clients.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", op, code.Canonical(c), store.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, code.Canonical(c), err)
}

// Create starts a new match on the server.
func (c *Client) Create(ctx context.Context, req api.CreateRequest) (*api.CreateResponse, error) {
	var resp api.CreateResponse
	if err := c.Post(ctx, "/api/match", req, &resp); err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}
	return &resp, nil
}

func (c *Client) GetSnapshot(ctx context.Context, matchCode string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.Get(ctx, matchPath(matchCode), &snap); err != nil {
		return nil, mapError("get match", matchCode, err)
	}
	return &snap, nil
}

func (c *Client) PutSnapshot(ctx context.Context, matchCode string, snap models.Snapshot) error {
	return mapError("put match", matchCode, c.Put(ctx, matchPath(matchCode), snap, nil))
}

func (c *Client) ListEvents(ctx context.Context, matchCode string) ([]models.MatchEvent, error) {
	var events []models.MatchEvent
	if err := c.Get(ctx, matchPath(matchCode)+"/events", &events); err != nil {
		return nil, mapError("list events", matchCode, err)
	}
	if events == nil {
		events = []models.MatchEvent{}
	}
	return events, nil
}

// AppendEvents posts events one at a time, stopping at the first failure.
func (c *Client) AppendEvents(ctx context.Context, matchCode string, events ...models.MatchEvent) error {
	for _, ev := range events {
		if err := c.Post(ctx, matchPath(matchCode)+"/events", ev, nil); err != nil {
			return mapError("append event", matchCode, err)
		}
	}
	return nil
}

// Live lists the matches that have not ended.
func (c *Client) Live(ctx context.Context) ([]models.MatchSummary, error) {
	var resp api.LiveResponse
	if err := c.Get(ctx, "/api/match/live", &resp); err != nil {
		return nil, fmt.Errorf("list live matches: %w", err)
	}
	return resp.Matches, nil
}
