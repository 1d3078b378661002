package votelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal voteline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. The server
	// only honors it when started with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	TrackerID   string   `json:"tracker_id"`
	Subject     string   `json:"subject"`
	StatusID    string   `json:"status_id"`
	AuthorID    string   `json:"author_id"`
	Points      *float64 `json:"points,omitempty"`
	AgreeTotal  int      `json:"agree_total"`
	AcceptTotal int      `json:"accept_total"`
	LockVersion int      `json:"lock_version"`
	Blocked     bool     `json:"blocked"`
	Overdue     bool     `json:"overdue"`
	HasTeam     bool     `json:"has_team"`
	DueBefore   *string  `json:"due_before,omitempty"`
	PushAllowed bool     `json:"push_allowed"`
}

type JournalDetail struct {
	Property string  `json:"property"`
	Key      string  `json:"key"`
	OldValue *string `json:"old_value,omitempty"`
	NewValue *string `json:"new_value,omitempty"`
}

type Journal struct {
	ID        string          `json:"id"`
	IssueID   string          `json:"issue_id"`
	ActorID   string          `json:"actor_id"`
	Notes     string          `json:"notes,omitempty"`
	CreatedAt string          `json:"created_at"`
	Details   []JournalDetail `json:"details"`
}

type Relation struct {
	ID     string `json:"id"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Kind   string `json:"kind"`
	Delay  *int   `json:"delay,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses, decoding the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateIssue creates an issue in the project.
func (c *Client) CreateIssue(ctx context.Context, projectID, trackerID, subject string) (Issue, error) {
	body := map[string]any{
		"tracker_id": trackerID,
		"subject":    subject,
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/projects/%s/issues", url.PathEscape(projectID)), body, &resp)
	return resp, err
}

// GetIssue fetches an issue with its blocked and overdue flags.
func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, c.issuePath(id, ""), nil, &resp)
	return resp, err
}

// UpdateIssue applies attribute changes (JSON field names as keys) with
// optional notes. A non-nil lockVersion makes the server reject stale edits.
func (c *Client) UpdateIssue(ctx context.Context, id string, changes map[string]any, notes string, lockVersion *int) (Issue, *Journal, error) {
	body := make(map[string]any, len(changes)+2)
	for k, v := range changes {
		body[k] = v
	}
	if notes != "" {
		body["notes"] = notes
	}
	if lockVersion != nil {
		body["lock_version"] = *lockVersion
	}
	var resp struct {
		Issue   Issue    `json:"issue"`
		Journal *Journal `json:"journal"`
	}
	err := c.do(ctx, http.MethodPatch, c.issuePath(id, ""), body, &resp)
	return resp.Issue, resp.Journal, err
}

// CastVote records the caller's vote and returns the recomputed issue.
func (c *Client) CastVote(ctx context.Context, issueID, kind string, points int) (Issue, error) {
	body := map[string]any{"kind": kind, "points": points}
	var resp Issue
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "votes"), body, &resp)
	return resp, err
}

// AddRelation links issueID to toID.
func (c *Client) AddRelation(ctx context.Context, issueID, toID, kind string, delay *int) (Relation, error) {
	body := map[string]any{"to_id": toID, "kind": kind}
	if delay != nil {
		body["delay"] = *delay
	}
	var resp Relation
	err := c.do(ctx, http.MethodPost, c.issuePath(issueID, "relations"), body, &resp)
	return resp, err
}

// Journals returns the issue history, oldest first.
func (c *Client) Journals(ctx context.Context, issueID string) ([]Journal, error) {
	var resp []Journal
	err := c.do(ctx, http.MethodGet, c.issuePath(issueID, "journals"), nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, entityID string, limit int) ([]Event, error) {
	q := url.Values{}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) issuePath(id, sub string) string {
	p := "v0/issues/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
