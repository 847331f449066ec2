package domain

import "fmt"

// Status is a project's lifecycle state.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusReturned    Status = "returned"
)

func (s Status) Valid() error {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved, StatusRejected, StatusReturned:
		return nil
	}
	return fmt.Errorf("unknown project status %q", string(s))
}

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusReturned:
		return true
	}
	return false
}

// Role is a user's role in the approval workflow.
type Role string

const (
	RoleProposer Role = "proposer"
	RoleReviewer Role = "reviewer"
	RoleDirector Role = "director"
	RoleSysAdmin Role = "system_administrator"
)

func (r Role) Valid() error {
	switch r {
	case RoleProposer, RoleReviewer, RoleDirector, RoleSysAdmin:
		return nil
	}
	return fmt.Errorf("unknown role %q", string(r))
}

// CanDecide reports whether the role may issue a final approval or rejection.
func (r Role) CanDecide() bool {
	return r == RoleDirector || r == RoleSysAdmin
}

// Decision is a reviewer's verdict on a project.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionReturn  Decision = "return"
)

func (d Decision) Valid() error {
	switch d {
	case DecisionApprove, DecisionReject, DecisionReturn:
		return nil
	}
	return fmt.Errorf("unknown decision %q", string(d))
}

// RiskLevel grades a reviewer's risk assessment.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (l RiskLevel) Valid() error {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return nil
	}
	return fmt.Errorf("unknown risk level %q", string(l))
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role" enum:"proposer,reviewer,director,system_administrator"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Objective     string `json:"objective,omitempty"`
	EstimatedCost string `json:"estimated_cost"`
	TargetTime    string `json:"target_time,omitempty"`
	Status        Status `json:"status" enum:"draft,submitted,under_review,approved,rejected,returned"`
	ProposerID    string `json:"proposer_id"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

// ReviewerAssignment links a reviewer to a project. Set at project
// creation, immutable afterward.
type ReviewerAssignment struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	ReviewerID string `json:"reviewer_id"`
	AssignedAt string `json:"assigned_at" format:"date-time"`
}

// Review holds one reviewer's evaluation. Decision and SubmittedAt are
// nil until the reviewer submits; they are set together, exactly once.
type Review struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"project_id"`
	ReviewerID         string    `json:"reviewer_id"`
	Decision           *Decision `json:"decision,omitempty" enum:"approve,reject,return"`
	Justification      string    `json:"justification,omitempty"`
	RiskIdentification string    `json:"risk_identification,omitempty"`
	RiskAssessment     RiskLevel `json:"risk_assessment,omitempty" enum:"low,medium,high"`
	RiskMitigation     string    `json:"risk_mitigation,omitempty"`
	Comments           string    `json:"comments,omitempty"`
	SubmittedAt        *string   `json:"submitted_at,omitempty" format:"date-time"`
	CreatedAt          string    `json:"created_at" format:"date-time"`
	UpdatedAt          string    `json:"updated_at" format:"date-time"`
}

// Submitted reports whether the review has been finalized.
func (r Review) Submitted() bool {
	return r.SubmittedAt != nil
}

// HistoryEntry is one row of the append-only audit trail.
type HistoryEntry struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	UserID    string  `json:"user_id"`
	Action    string  `json:"action"`
	Details   *string `json:"details,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// NotificationType identifies the event a notification reports.
type NotificationType string

const (
	NotifyProjectSubmitted NotificationType = "project_submitted"
	NotifyReviewSubmitted  NotificationType = "review_submitted"
	NotifyProjectApproved  NotificationType = "project_approved"
	NotifyProjectRejected  NotificationType = "project_rejected"
	NotifyProjectReturned  NotificationType = "project_returned"
	NotifyCommentAdded     NotificationType = "comment_added"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ProjectID *string          `json:"project_id,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
