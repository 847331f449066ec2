package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"greenlight/internal/config"
	"greenlight/internal/domain"
	"greenlight/internal/engine/auth"
	"greenlight/internal/history"
	"greenlight/internal/notify"
	"greenlight/internal/repo"
)

// Engine sequences workflow operations. Each public method is one
// transaction: validate, mutate, append history, write notifications,
// commit. A failed validation leaves no trace.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Auth    auth.Service
	History history.Writer
	Notify  notify.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Auth:    auth.Service{Repo: repo.Repo{DB: db}},
		History: history.Writer{DB: db},
		Notify:  notify.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) historyWriter() history.Writer {
	w := e.History
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) notifyWriter() notify.Writer {
	w := e.Notify
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// CreateUserOptions are parameters for registering a user.
type CreateUserOptions struct {
	Name  string
	Email string
	Role  domain.Role
}

func (e Engine) CreateUser(ctx context.Context, opts CreateUserOptions) (domain.User, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.User{}, ValidationError{Field: "name", Reason: "required"}
	}
	email := strings.TrimSpace(strings.ToLower(opts.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, ValidationError{Field: "email", Reason: "valid address required"}
	}
	if err := opts.Role.Valid(); err != nil {
		return domain.User{}, ValidationError{Field: "role", Reason: err.Error()}
	}
	u := domain.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(opts.Name),
		Email:     email,
		Role:      opts.Role,
		IsActive:  true,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateProjectOptions are parameters for creating a project proposal.
type CreateProjectOptions struct {
	Name          string
	Description   string
	Objective     string
	EstimatedCost string
	TargetTime    string
	ProposerID    string
	ReviewerIDs   []string
}

// CreateProject creates a draft project with its reviewer assignments
// and one empty review per reviewer.
func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "required"}
	}
	cost, err := strconv.ParseFloat(strings.TrimSpace(opts.EstimatedCost), 64)
	if err != nil || cost <= 0 {
		return domain.Project{}, ValidationError{Field: "estimated_cost", Reason: "positive decimal required"}
	}
	reviewers := dedupe(opts.ReviewerIDs)
	if len(reviewers) == 0 {
		return domain.Project{}, ValidationError{Field: "reviewer_ids", Reason: "at least one reviewer required"}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	proposer, err := e.Auth.RequireUser(ctx, tx, opts.ProposerID)
	if err != nil {
		return domain.Project{}, err
	}
	for _, rid := range reviewers {
		u, err := e.Repo.GetUserTx(ctx, tx, rid)
		if err != nil {
			return domain.Project{}, ValidationError{Field: "reviewer_ids", Reason: fmt.Sprintf("reviewer %s not found", rid)}
		}
		if u.Role != domain.RoleReviewer {
			return domain.Project{}, ValidationError{Field: "reviewer_ids", Reason: fmt.Sprintf("user %s does not hold the reviewer role", rid)}
		}
		if !u.IsActive {
			return domain.Project{}, ValidationError{Field: "reviewer_ids", Reason: fmt.Sprintf("reviewer %s is deactivated", rid)}
		}
	}

	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(opts.Name),
		Description:   opts.Description,
		Objective:     opts.Objective,
		EstimatedCost: strings.TrimSpace(opts.EstimatedCost),
		TargetTime:    opts.TargetTime,
		Status:        domain.StatusDraft,
		ProposerID:    proposer.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	for _, rid := range reviewers {
		a := domain.ReviewerAssignment{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			ReviewerID: rid,
			AssignedAt: now,
		}
		if err := e.Repo.InsertReviewerAssignment(ctx, tx, a); err != nil {
			return domain.Project{}, fmt.Errorf("assign reviewer: %w", err)
		}
		rv := domain.Review{
			ID:         uuid.NewString(),
			ProjectID:  p.ID,
			ReviewerID: rid,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.Repo.InsertReview(ctx, tx, rv); err != nil {
			return domain.Project{}, fmt.Errorf("create review: %w", err)
		}
	}
	if err := e.historyWriter().Append(ctx, tx, p.ID, proposer.ID, "project_created", nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SubmitProject moves a draft project into the review pipeline. Only the
// proposer may submit.
func (e Engine) SubmitProject(ctx context.Context, projectID, userID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	user, err := e.Auth.RequireUser(ctx, tx, userID)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireProposer(user, p, "submit"); err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.StatusDraft {
		return domain.Project{}, InvalidStateError{Operation: "submit", Current: p.Status}
	}

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectStatus(ctx, tx, p.ID, domain.StatusSubmitted, now); err != nil {
		return domain.Project{}, err
	}
	p.Status = domain.StatusSubmitted
	p.UpdatedAt = now

	if err := e.historyWriter().Append(ctx, tx, p.ID, user.ID, "project_submitted", nil); err != nil {
		return domain.Project{}, err
	}
	assignments, err := e.Repo.ListReviewerAssignmentsTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	msg := fmt.Sprintf("Project %q was submitted and awaits your review.", p.Name)
	for _, a := range assignments {
		if err := e.notifyWriter().Send(ctx, tx, a.ReviewerID, string(domain.NotifyProjectSubmitted), "Project submitted", msg, p.ID); err != nil {
			return domain.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SubmitReviewOptions carry a reviewer's finalized evaluation.
type SubmitReviewOptions struct {
	ReviewID           string
	ReviewerID         string
	Decision           domain.Decision
	Justification      string
	RiskIdentification string
	RiskAssessment     domain.RiskLevel
	RiskMitigation     string
	Comments           string
}

// SubmitReview finalizes one review, then aggregates the project's full
// review set. The last submission of a complete set transitions the
// project in the same transaction.
func (e Engine) SubmitReview(ctx context.Context, opts SubmitReviewOptions) (domain.Review, error) {
	if err := opts.Decision.Valid(); err != nil {
		return domain.Review{}, ValidationError{Field: "decision", Reason: err.Error()}
	}
	if strings.TrimSpace(opts.Justification) == "" {
		return domain.Review{}, ValidationError{Field: "justification", Reason: "required"}
	}
	if opts.RiskAssessment != "" {
		if err := opts.RiskAssessment.Valid(); err != nil {
			return domain.Review{}, ValidationError{Field: "risk_assessment", Reason: err.Error()}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()

	user, err := e.Auth.RequireUser(ctx, tx, opts.ReviewerID)
	if err != nil {
		return domain.Review{}, err
	}
	rv, err := e.Repo.GetReviewTx(ctx, tx, opts.ReviewID)
	if err != nil {
		return domain.Review{}, err
	}
	if err := e.Auth.RequireAssignedReviewer(rv, user, "submit this review"); err != nil {
		return domain.Review{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, rv.ProjectID)
	if err != nil {
		return domain.Review{}, err
	}
	if p.Status != domain.StatusSubmitted && p.Status != domain.StatusUnderReview {
		return domain.Review{}, InvalidStateError{Operation: "review", Current: p.Status}
	}
	if rv.Submitted() && !e.allowResubmission() {
		return domain.Review{}, ReviewAlreadySubmittedError{ReviewID: rv.ID}
	}

	now := e.now().UTC().Format(time.RFC3339)
	decision := opts.Decision
	rv.Decision = &decision
	rv.Justification = opts.Justification
	rv.RiskIdentification = opts.RiskIdentification
	rv.RiskAssessment = opts.RiskAssessment
	rv.RiskMitigation = opts.RiskMitigation
	rv.Comments = opts.Comments
	rv.SubmittedAt = &now
	rv.UpdatedAt = now
	if err := e.Repo.UpdateReview(ctx, tx, rv); err != nil {
		return domain.Review{}, err
	}

	// Review entering the set starts the review phase.
	if p.Status == domain.StatusSubmitted {
		if err := e.Repo.UpdateProjectStatus(ctx, tx, p.ID, domain.StatusUnderReview, now); err != nil {
			return domain.Review{}, err
		}
		p.Status = domain.StatusUnderReview
	}

	details := fmt.Sprintf("decision=%s", decision)
	if err := e.historyWriter().Append(ctx, tx, p.ID, user.ID, "review_submitted", &details); err != nil {
		return domain.Review{}, err
	}
	msg := fmt.Sprintf("%s completed their review of project %q.", user.Name, p.Name)
	if err := e.notifyWriter().Send(ctx, tx, p.ProposerID, string(domain.NotifyReviewSubmitted), "Review submitted", msg, p.ID); err != nil {
		return domain.Review{}, err
	}

	reviews, err := e.Repo.ListReviewsForProjectTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Review{}, err
	}
	outcome, err := Aggregate(reviews)
	if err != nil {
		return domain.Review{}, err
	}
	if outcome.Complete && len(reviews) > 0 {
		if err := e.finalize(ctx, tx, p, outcome.Status, user.ID, ""); err != nil {
			return domain.Review{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return rv, nil
}

// finalize applies a resolved terminal status inside the caller's
// transaction, with the one history entry and the notification fan-out
// the outcome calls for. reason is included in every message when set.
func (e Engine) finalize(ctx context.Context, tx *sql.Tx, p domain.Project, status domain.Status, actorID, reason string) error {
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectStatus(ctx, tx, p.ID, status, now); err != nil {
		return err
	}

	var action string
	var typ domain.NotificationType
	var title, msg string
	switch status {
	case domain.StatusApproved:
		action = "project_approved"
		typ = domain.NotifyProjectApproved
		title = "Project approved"
		msg = fmt.Sprintf("Project %q was approved.", p.Name)
	case domain.StatusRejected:
		action = "project_rejected"
		typ = domain.NotifyProjectRejected
		title = "Project rejected"
		msg = fmt.Sprintf("Project %q was rejected.", p.Name)
	case domain.StatusReturned:
		action = "project_returned"
		typ = domain.NotifyProjectReturned
		title = "Project returned"
		msg = fmt.Sprintf("Project %q was returned for rework.", p.Name)
	default:
		return fmt.Errorf("finalize called with non-terminal status %s", status)
	}
	if reason != "" {
		msg = fmt.Sprintf("%s Reason: %s", msg, reason)
	}

	var details *string
	if reason != "" {
		details = &reason
	}
	if err := e.historyWriter().Append(ctx, tx, p.ID, actorID, action, details); err != nil {
		return err
	}
	if err := e.notifyWriter().Send(ctx, tx, p.ProposerID, string(typ), title, msg, p.ID); err != nil {
		return err
	}
	assignments, err := e.Repo.ListReviewerAssignmentsTx(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	for _, a := range assignments {
		if err := e.notifyWriter().Send(ctx, tx, a.ReviewerID, string(typ), title, msg, p.ID); err != nil {
			return err
		}
	}
	if status == domain.StatusApproved {
		deciders, err := e.Repo.ListActiveDecidersTx(ctx, tx)
		if err != nil {
			return err
		}
		var others []domain.User
		for _, d := range deciders {
			if d.ID != p.ProposerID {
				others = append(others, d)
			}
		}
		if err := e.notifyWriter().Broadcast(ctx, tx, others, string(typ), title, msg, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// ApproveProject confirms a unanimous review outcome. It never overrides
// an incomplete or non-approving review set.
func (e Engine) ApproveProject(ctx context.Context, projectID, userID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	user, err := e.Auth.RequireUser(ctx, tx, userID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireDecider(user, "approve"); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.StatusUnderReview {
		return domain.Project{}, InvalidStateError{Operation: "approve", Current: p.Status}
	}
	reviews, err := e.Repo.ListReviewsForProjectTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if len(reviews) == 0 {
		return domain.Project{}, ReviewsIncompleteError{}
	}
	outcome, err := Aggregate(reviews)
	if err != nil {
		return domain.Project{}, err
	}
	if !outcome.Complete {
		return domain.Project{}, ReviewsIncompleteError{Missing: outcome.Pending}
	}
	if outcome.Status != domain.StatusApproved {
		var bad domain.Decision
		for _, rv := range reviews {
			if rv.Decision != nil && *rv.Decision != domain.DecisionApprove {
				bad = *rv.Decision
				break
			}
		}
		return domain.Project{}, ReviewsNotAllApprovedError{Decision: bad}
	}
	if err := e.finalize(ctx, tx, p, domain.StatusApproved, user.ID, ""); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Status = domain.StatusApproved
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	return p, nil
}

// RejectProject rejects a project under review. Directors may reject
// regardless of the review outcomes; reason is mandatory and carried
// into every notification.
func (e Engine) RejectProject(ctx context.Context, projectID, userID, reason string) (domain.Project, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Project{}, ValidationError{Field: "reason", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	user, err := e.Auth.RequireUser(ctx, tx, userID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireDecider(user, "reject"); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Status != domain.StatusUnderReview {
		return domain.Project{}, InvalidStateError{Operation: "reject", Current: p.Status}
	}
	if err := e.finalize(ctx, tx, p, domain.StatusRejected, user.ID, reason); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Status = domain.StatusRejected
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	return p, nil
}

// AddComment appends to a project's discussion thread and notifies the
// other participants.
func (e Engine) AddComment(ctx context.Context, projectID, userID, body string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, ValidationError{Field: "body", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	user, err := e.Auth.RequireUser(ctx, tx, userID)
	if err != nil {
		return domain.Comment{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Comment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Comment{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		UserID:    user.ID,
		Body:      body,
		CreatedAt: now,
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	msg := fmt.Sprintf("%s commented on project %q.", user.Name, p.Name)
	recipients := map[string]bool{p.ProposerID: true}
	assignments, err := e.Repo.ListReviewerAssignmentsTx(ctx, tx, p.ID)
	if err != nil {
		return domain.Comment{}, err
	}
	for _, a := range assignments {
		recipients[a.ReviewerID] = true
	}
	delete(recipients, user.ID)
	for uid := range recipients {
		if err := e.notifyWriter().Send(ctx, tx, uid, string(domain.NotifyCommentAdded), "New comment", msg, p.ID); err != nil {
			return domain.Comment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// CreateAPIKey mints a key for a user and stores only its hash. The raw
// key is returned once and cannot be recovered.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "glk_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func (e Engine) allowResubmission() bool {
	return e.Config != nil && e.Config.Workflow.AllowReviewResubmission
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
