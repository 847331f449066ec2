package server

import (
	"greenlight/internal/domain"
)

// Request payloads

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" format:"email"`
	Role  string `json:"role" enum:"proposer,reviewer,director,system_administrator"`
}

type CreateProjectRequest struct {
	Name          string   `json:"name"`
	Description   *string  `json:"description,omitempty"`
	Objective     *string  `json:"objective,omitempty"`
	EstimatedCost string   `json:"estimated_cost"`
	TargetTime    *string  `json:"target_time,omitempty"`
	ReviewerIDs   []string `json:"reviewer_ids"`
}

type SubmitReviewRequest struct {
	Decision           string  `json:"decision" enum:"approve,reject,return"`
	Justification      string  `json:"justification"`
	RiskIdentification *string `json:"risk_identification,omitempty"`
	RiskAssessment     *string `json:"risk_assessment,omitempty" enum:"low,medium,high"`
	RiskMitigation     *string `json:"risk_mitigation,omitempty"`
	Comments           *string `json:"comments,omitempty"`
}

type RejectProjectRequest struct {
	Reason string `json:"reason"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

type CreateAPIKeyRequest struct {
	UserID string  `json:"user_id,omitempty"`
	Name   *string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role" enum:"proposer,reviewer,director,system_administrator"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Objective     string   `json:"objective,omitempty"`
	EstimatedCost string   `json:"estimated_cost"`
	TargetTime    string   `json:"target_time,omitempty"`
	Status        string   `json:"status" enum:"draft,submitted,under_review,approved,rejected,returned"`
	ProposerID    string   `json:"proposer_id"`
	ReviewerIDs   []string `json:"reviewer_ids,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

func (p ProjectResponse) withReviewers(assignments []domain.ReviewerAssignment) ProjectResponse {
	for _, a := range assignments {
		p.ReviewerIDs = append(p.ReviewerIDs, a.ReviewerID)
	}
	return p
}

type ReviewResponse struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	ReviewerID         string  `json:"reviewer_id"`
	Decision           *string `json:"decision,omitempty" enum:"approve,reject,return"`
	Justification      string  `json:"justification,omitempty"`
	RiskIdentification string  `json:"risk_identification,omitempty"`
	RiskAssessment     string  `json:"risk_assessment,omitempty" enum:"low,medium,high"`
	RiskMitigation     string  `json:"risk_mitigation,omitempty"`
	Comments           string  `json:"comments,omitempty"`
	SubmittedAt        *string `json:"submitted_at,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type HistoryEntryResponse struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	UserID    string  `json:"user_id"`
	Action    string  `json:"action"`
	Details   *string `json:"details,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type NotificationResponse struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	ProjectID *string `json:"project_id,omitempty"`
	IsRead    bool    `json:"is_read"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type CommentResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedHistory struct {
	Items      []HistoryEntryResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Objective:     p.Objective,
		EstimatedCost: p.EstimatedCost,
		TargetTime:    p.TargetTime,
		Status:        string(p.Status),
		ProposerID:    p.ProposerID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func reviewResponse(rv domain.Review) ReviewResponse {
	var decision *string
	if rv.Decision != nil {
		d := string(*rv.Decision)
		decision = &d
	}
	return ReviewResponse{
		ID:                 rv.ID,
		ProjectID:          rv.ProjectID,
		ReviewerID:         rv.ReviewerID,
		Decision:           decision,
		Justification:      rv.Justification,
		RiskIdentification: rv.RiskIdentification,
		RiskAssessment:     string(rv.RiskAssessment),
		RiskMitigation:     rv.RiskMitigation,
		Comments:           rv.Comments,
		SubmittedAt:        rv.SubmittedAt,
		CreatedAt:          rv.CreatedAt,
		UpdatedAt:          rv.UpdatedAt,
	}
}

func historyResponse(e domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		UserID:    e.UserID,
		Action:    e.Action,
		Details:   e.Details,
		CreatedAt: e.CreatedAt,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		ProjectID: n.ProjectID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		UserID:    c.UserID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapReviews(items []domain.Review) []ReviewResponse {
	res := make([]ReviewResponse, 0, len(items))
	for _, rv := range items {
		res = append(res, reviewResponse(rv))
	}
	return res
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func mapComments(items []domain.Comment) []CommentResponse {
	res := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, commentResponse(c))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
