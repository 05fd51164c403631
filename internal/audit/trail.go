// Package audit adapts the platform's audit trail to the correlator. The
// trail is external, append-only and eventually consistent; this package
// owns only the request shape, not connection management.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/guildwatch/guildwatch/internal/domain"
)

// HTTPDoer abstracts the HTTP client so tests need no network.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTTrail fetches recent audit entries from the platform's REST endpoint.
type RESTTrail struct {
	baseURL string
	token   string
	client  HTTPDoer
}

// Compile-time interface check.
var _ domain.Trail = (*RESTTrail)(nil) //nolint:gochecknoglobals // compile-time check

// NewRESTTrail creates a trail adapter. client may be nil, in which case a
// default client with a request timeout is used.
func NewRESTTrail(baseURL, token string, client HTTPDoer) *RESTTrail {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTTrail{baseURL: baseURL, token: token, client: client}
}

// wireEntry is the adapter's view of one trail record.
type wireEntry struct {
	ID         string    `json:"id"`
	ActionKind string    `json:"action_kind"`
	TargetID   string    `json:"target_id"`
	ExecutorID string    `json:"executor_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FetchRecent returns up to limit entries of the given action kind, newest
// first. targetID narrows the query when non-empty.
func (t *RESTTrail) FetchRecent(ctx context.Context, action domain.ActionKind, targetID domain.Identity, limit int) ([]domain.AuditEntry, error) {
	q := url.Values{}
	q.Set("action_kind", string(action))
	q.Set("limit", strconv.Itoa(limit))
	if targetID != "" {
		q.Set("target_id", string(targetID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/audit-log?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("audit.RESTTrail.FetchRecent: build request: %w", err)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audit.RESTTrail.FetchRecent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audit.RESTTrail.FetchRecent: status %d", resp.StatusCode)
	}

	var wire []wireEntry
	if decodeErr := json.NewDecoder(resp.Body).Decode(&wire); decodeErr != nil {
		return nil, fmt.Errorf("audit.RESTTrail.FetchRecent: decode: %w", decodeErr)
	}

	entries := make([]domain.AuditEntry, 0, len(wire))
	for _, w := range wire {
		entries = append(entries, domain.AuditEntry{
			ActionKind: domain.ActionKind(w.ActionKind),
			TargetID:   domain.Identity(w.TargetID),
			ExecutorID: domain.Identity(w.ExecutorID),
			OccurredAt: w.OccurredAt,
			EntryID:    w.ID,
		})
	}

	return entries, nil
}
