package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"greenlight/internal/config"
	"greenlight/internal/db"
	"greenlight/internal/domain"
	"greenlight/internal/engine"
	"greenlight/internal/engine/auth"
	"greenlight/internal/migrate"
	"greenlight/internal/repo"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Proposer domain.User
	Rev1     domain.User
	Rev2     domain.User
	Director domain.User
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	env := testEnv{Engine: eng, Ctx: ctx}
	env.Proposer = mustUser(t, eng, "Pat Proposer", "pat@example.com", domain.RoleProposer)
	env.Rev1 = mustUser(t, eng, "Rae Reviewer", "rae@example.com", domain.RoleReviewer)
	env.Rev2 = mustUser(t, eng, "Ruth Reviewer", "ruth@example.com", domain.RoleReviewer)
	env.Director = mustUser(t, eng, "Dan Director", "dan@example.com", domain.RoleDirector)
	return env
}

func mustUser(t *testing.T, eng engine.Engine, name, email string, role domain.Role) domain.User {
	t.Helper()
	u, err := eng.CreateUser(context.Background(), engine.CreateUserOptions{Name: name, Email: email, Role: role})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (env testEnv) newProject(t *testing.T, reviewers ...string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		Name:          "Solar Roof",
		Description:   "Panels on building C",
		Objective:     "Cut energy costs",
		EstimatedCost: "125000",
		TargetTime:    "2024-09-01",
		ProposerID:    env.Proposer.ID,
		ReviewerIDs:   reviewers,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) reviewFor(t *testing.T, projectID, reviewerID string) domain.Review {
	t.Helper()
	reviews, err := env.Engine.Repo.ListReviewsForProject(env.Ctx, projectID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	for _, rv := range reviews {
		if rv.ReviewerID == reviewerID {
			return rv
		}
	}
	t.Fatalf("no review for reviewer %s", reviewerID)
	return domain.Review{}
}

func (env testEnv) submitReview(t *testing.T, reviewID, reviewerID string, decision domain.Decision) domain.Review {
	t.Helper()
	rv, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitReviewOptions{
		ReviewID:      reviewID,
		ReviewerID:    reviewerID,
		Decision:      decision,
		Justification: "evaluated",
	})
	if err != nil {
		t.Fatalf("submit review: %v", err)
	}
	return rv
}

func TestProjectCreationSeedsEmptyReviews(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	if p.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", p.Status)
	}
	reviews, err := env.Engine.Repo.ListReviewsForProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(reviews))
	}
	for _, rv := range reviews {
		if rv.Submitted() || rv.Decision != nil {
			t.Fatalf("expected empty review, got %+v", rv)
		}
	}
}

func TestProjectCreationRequiresReviewer(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		Name:          "No reviewers",
		EstimatedCost: "100",
		ProposerID:    env.Proposer.ID,
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProjectCreationRejectsNonReviewerAssignee(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{
		Name:          "Bad assignment",
		EstimatedCost: "100",
		ProposerID:    env.Proposer.ID,
		ReviewerIDs:   []string{env.Director.ID},
	})
	if err == nil {
		t.Fatalf("expected error assigning a non-reviewer")
	}
}

func TestSubmitRequiresProposer(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	_, err := env.Engine.SubmitProject(env.Ctx, p.ID, env.Director.ID)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: env.Rev1.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("failed submit must not notify, got %+v", items)
	}
}

func TestSubmitOnlyFromDraft(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	if _, err := env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestSubmitNotifiesReviewers(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	if _, err := env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, rev := range []domain.User{env.Rev1, env.Rev2} {
		items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: rev.ID, Limit: 10})
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		if len(items) != 1 || items[0].Type != domain.NotifyProjectSubmitted {
			t.Fatalf("expected one submit notification for %s, got %+v", rev.Email, items)
		}
	}
}

func TestFirstReviewMovesToUnderReview(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	rv := env.reviewFor(t, p.ID, env.Rev1.ID)
	env.submitReview(t, rv.ID, env.Rev1.ID, domain.DecisionApprove)
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Status != domain.StatusUnderReview {
		t.Fatalf("expected under_review, got %s", got.Status)
	}
}

func TestAllApproveFinalizesProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev2.ID).ID, env.Rev2.ID, domain.DecisionApprove)
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}
	entries, err := env.Engine.Repo.ListHistory(env.Ctx, repo.HistoryFilters{ProjectID: p.ID, Action: "project_approved", Limit: 10})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one approval history entry, got %d", len(entries))
	}
}

func TestRejectDecisionWins(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev2.ID).ID, env.Rev2.ID, domain.DecisionReject)
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
}

func TestReturnDecisionReturnsProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionReturn)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev2.ID).ID, env.Rev2.ID, domain.DecisionApprove)
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.StatusReturned {
		t.Fatalf("expected returned, got %s", got.Status)
	}
}

func TestReviewResubmissionBlocked(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	rv := env.reviewFor(t, p.ID, env.Rev1.ID)
	env.submitReview(t, rv.ID, env.Rev1.ID, domain.DecisionApprove)
	_, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitReviewOptions{
		ReviewID:      rv.ID,
		ReviewerID:    env.Rev1.ID,
		Decision:      domain.DecisionReject,
		Justification: "changed my mind",
	})
	var rse engine.ReviewAlreadySubmittedError
	if !errors.As(err, &rse) {
		t.Fatalf("expected already submitted, got %v", err)
	}
}

func TestReviewResubmissionAllowedByConfig(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Workflow.AllowReviewResubmission = true
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	rv := env.reviewFor(t, p.ID, env.Rev1.ID)
	env.submitReview(t, rv.ID, env.Rev1.ID, domain.DecisionApprove)
	got := env.submitReview(t, rv.ID, env.Rev1.ID, domain.DecisionReject)
	if got.Decision == nil || *got.Decision != domain.DecisionReject {
		t.Fatalf("expected updated decision, got %+v", got)
	}
}

func TestReviewByWrongReviewerForbidden(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	rv := env.reviewFor(t, p.ID, env.Rev1.ID)
	_, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitReviewOptions{
		ReviewID:      rv.ID,
		ReviewerID:    env.Rev2.ID,
		Decision:      domain.DecisionApprove,
		Justification: "not mine",
	})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestReviewAfterTerminalStateRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	if _, err := env.Engine.RejectProject(env.Ctx, p.ID, env.Director.ID, "Budget concerns"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, err := env.Engine.SubmitReview(env.Ctx, engine.SubmitReviewOptions{
		ReviewID:      env.reviewFor(t, p.ID, env.Rev2.ID).ID,
		ReviewerID:    env.Rev2.ID,
		Decision:      domain.DecisionApprove,
		Justification: "too late",
	})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestApproveRoleCheckedBeforeState(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	// project is still draft, but the role failure must win
	_, err := env.Engine.ApproveProject(env.Ctx, p.ID, env.Proposer.ID)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestApproveOnDraftInvalidState(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	_, err := env.Engine.ApproveProject(env.Ctx, p.ID, env.Director.ID)
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if ise.Current != domain.StatusDraft {
		t.Fatalf("expected draft in error, got %s", ise.Current)
	}
}

func TestRejectForbiddenForNonDecider(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	_, err := env.Engine.RejectProject(env.Ctx, p.ID, env.Rev1.ID, "Not my call")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestApproveIncompleteReviews(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	_, err := env.Engine.ApproveProject(env.Ctx, p.ID, env.Director.ID)
	var rie engine.ReviewsIncompleteError
	if !errors.As(err, &rie) {
		t.Fatalf("expected reviews incomplete, got %v", err)
	}
	if len(rie.Missing) != 1 || rie.Missing[0] != env.Rev2.ID {
		t.Fatalf("expected %s pending, got %v", env.Rev2.ID, rie.Missing)
	}
}

func TestApproveNeverOverridesRejection(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionReject)
	// force the project back under review to simulate a stale confirmation
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET status='under_review' WHERE id=?`, p.ID); err != nil {
		t.Fatalf("reset status: %v", err)
	}
	_, err := env.Engine.ApproveProject(env.Ctx, p.ID, env.Director.ID)
	var rna engine.ReviewsNotAllApprovedError
	if !errors.As(err, &rna) {
		t.Fatalf("expected not all approved, got %v", err)
	}
}

func TestApproveConfirmsCompleteApprovalSet(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	// auto-finalize already approved it; force under_review to exercise the
	// explicit confirmation path
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET status='under_review' WHERE id=?`, p.ID); err != nil {
		t.Fatalf("reset status: %v", err)
	}
	got, err := env.Engine.ApproveProject(env.Ctx, p.ID, env.Director.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", got.Status)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	_, err := env.Engine.RejectProject(env.Ctx, p.ID, env.Director.ID, "  ")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRejectRecordsReasonEverywhere(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	got, err := env.Engine.RejectProject(env.Ctx, p.ID, env.Director.ID, "Budget concerns")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
	entries, err := env.Engine.Repo.ListHistory(env.Ctx, repo.HistoryFilters{ProjectID: p.ID, Action: "project_rejected", Limit: 10})
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 1 || entries[0].Details == nil || !strings.Contains(*entries[0].Details, "Budget concerns") {
		t.Fatalf("expected reason in history details, got %+v", entries)
	}
	items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: env.Proposer.ID, Limit: 20})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	found := false
	for _, n := range items {
		if n.Type == domain.NotifyProjectRejected {
			found = true
			if !strings.Contains(n.Message, "Budget concerns") {
				t.Fatalf("expected reason in notification, got %q", n.Message)
			}
		}
	}
	if !found {
		t.Fatalf("expected rejection notification for proposer")
	}
}

func TestApprovalNotifiesDecidersExceptProposer(t *testing.T) {
	env := newTestEnv(t)
	other := mustUser(t, env.Engine, "Dee Director", "dee@example.com", domain.RoleDirector)
	p := env.newProject(t, env.Rev1.ID)
	env.Engine.SubmitProject(env.Ctx, p.ID, env.Proposer.ID)
	env.submitReview(t, env.reviewFor(t, p.ID, env.Rev1.ID).ID, env.Rev1.ID, domain.DecisionApprove)
	for _, u := range []domain.User{env.Director, other} {
		items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: u.ID, Limit: 20})
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		found := false
		for _, n := range items {
			if n.Type == domain.NotifyProjectApproved {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected approval notification for %s", u.Email)
		}
	}
}

func TestCommentNotifiesParticipantsExceptAuthor(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProject(t, env.Rev1.ID, env.Rev2.ID)
	if _, err := env.Engine.AddComment(env.Ctx, p.ID, env.Rev1.ID, "looks pricey"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	for _, u := range []domain.User{env.Proposer, env.Rev2} {
		items, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: u.ID, Limit: 10})
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		if len(items) != 1 || items[0].Type != domain.NotifyCommentAdded {
			t.Fatalf("expected comment notification for %s, got %+v", u.Email, items)
		}
	}
	items, _ := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{UserID: env.Rev1.ID, Limit: 10})
	if len(items) != 0 {
		t.Fatalf("author should not be notified, got %+v", items)
	}
}
