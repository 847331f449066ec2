package greenlightsdk

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

// Client is a minimal Greenlight HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Objective     string   `json:"objective,omitempty"`
	EstimatedCost string   `json:"estimated_cost"`
	TargetTime    string   `json:"target_time,omitempty"`
	Status        string   `json:"status"`
	ProposerID    string   `json:"proposer_id"`
	ReviewerIDs   []string `json:"reviewer_ids,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// Review represents a reviewer's evaluation of a project.
type Review struct {
	ID                 string `json:"id"`
	ProjectID          string `json:"project_id"`
	ReviewerID         string `json:"reviewer_id"`
	Decision           string `json:"decision,omitempty"`
	Justification      string `json:"justification,omitempty"`
	RiskIdentification string `json:"risk_identification,omitempty"`
	RiskAssessment     string `json:"risk_assessment,omitempty"`
	RiskMitigation     string `json:"risk_mitigation,omitempty"`
	Comments           string `json:"comments,omitempty"`
	SubmittedAt        string `json:"submitted_at,omitempty"`
}

// Notification is a message delivered to a user.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	ProjectID string `json:"project_id,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// HistoryEntry is one line of a project's audit trail.
type HistoryEntry struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Comment is a project discussion entry.
type Comment struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedProjects wraps project listings with cursors.
type PaginatedProjects struct {
	Items      []Project `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedNotifications wraps notification listings with cursors.
type PaginatedNotifications struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// PaginatedHistory wraps audit-trail listings with cursors.
type PaginatedHistory struct {
	Items      []HistoryEntry `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// CreateProjectInput holds the fields for a new proposal.
type CreateProjectInput struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Objective     string   `json:"objective,omitempty"`
	EstimatedCost string   `json:"estimated_cost"`
	TargetTime    string   `json:"target_time,omitempty"`
	ReviewerIDs   []string `json:"reviewer_ids"`
}

// SubmitReviewInput holds a reviewer's evaluation.
type SubmitReviewInput struct {
	Decision           string `json:"decision"`
	Justification      string `json:"justification"`
	RiskIdentification string `json:"risk_identification,omitempty"`
	RiskAssessment     string `json:"risk_assessment,omitempty"`
	RiskMitigation     string `json:"risk_mitigation,omitempty"`
	Comments           string `json:"comments,omitempty"`
}

// CreateProject creates a draft proposal.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", in, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ProjectsPage returns a paginated project listing.
func (c *Client) ProjectsPage(ctx context.Context, status string, limit int, cursor string) (PaginatedProjects, error) {
	endpoint := "v0/projects" + listQuery(limit, cursor, map[string]string{"status": status})
	var resp PaginatedProjects
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitProject moves a draft into review.
func (c *Client) SubmitProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/projects/%s/submit", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ApproveProject confirms approval of a fully reviewed project.
func (c *Client) ApproveProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/projects/%s/approve", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// RejectProject rejects a project. A reason is mandatory.
func (c *Client) RejectProject(ctx context.Context, id, reason string) (Project, error) {
	var resp Project
	body := map[string]any{"reason": reason}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/projects/%s/reject", url.PathEscape(id)), body, &resp)
	return resp, err
}

// ProjectReviews lists all reviews of a project.
func (c *Client) ProjectReviews(ctx context.Context, projectID string) ([]Review, error) {
	var resp []Review
	endpoint := fmt.Sprintf("v0/projects/%s/reviews", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitReview submits the caller's review.
func (c *Client) SubmitReview(ctx context.Context, reviewID string, in SubmitReviewInput) (Review, error) {
	var resp Review
	endpoint := fmt.Sprintf("v0/reviews/%s/submit", url.PathEscape(reviewID))
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp, err
}

// PendingReviews lists reviews still awaiting the caller.
func (c *Client) PendingReviews(ctx context.Context) ([]Review, error) {
	var resp []Review
	err := c.do(ctx, http.MethodGet, "v0/reviews/pending", nil, &resp)
	return resp, err
}

// AddComment posts a comment on a project.
func (c *Client) AddComment(ctx context.Context, projectID, body string) (Comment, error) {
	var resp Comment
	endpoint := fmt.Sprintf("v0/projects/%s/comments", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// Comments lists a project's comment thread.
func (c *Client) Comments(ctx context.Context, projectID string) ([]Comment, error) {
	var resp []Comment
	endpoint := fmt.Sprintf("v0/projects/%s/comments", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// HistoryPage returns a page of a project's audit trail.
func (c *Client) HistoryPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedHistory, error) {
	endpoint := fmt.Sprintf("v0/projects/%s/history", url.PathEscape(projectID)) + listQuery(limit, cursor, nil)
	var resp PaginatedHistory
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// NotificationsPage returns a page of the caller's notifications.
func (c *Client) NotificationsPage(ctx context.Context, unreadOnly bool, limit int, cursor string) (PaginatedNotifications, error) {
	extra := map[string]string{}
	if unreadOnly {
		extra["unread"] = "true"
	}
	endpoint := "v0/notifications" + listQuery(limit, cursor, extra)
	var resp PaginatedNotifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v0/notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

func listQuery(limit int, cursor string, extra map[string]string) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	for k, v := range extra {
		if v != "" {
			q.Set(k, v)
		}
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
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
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
