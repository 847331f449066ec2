package engine

import (
	"testing"

	"greenlight/internal/domain"
)

func submitted(id string, d domain.Decision) domain.Review {
	ts := "2024-01-01T00:00:00Z"
	return domain.Review{ID: id, Decision: &d, SubmittedAt: &ts}
}

func pending(id string) domain.Review {
	return domain.Review{ID: id}
}

func TestAggregateAllApprove(t *testing.T) {
	out, err := Aggregate([]domain.Review{
		submitted("r1", domain.DecisionApprove),
		submitted("r2", domain.DecisionApprove),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !out.Complete || out.Status != domain.StatusApproved {
		t.Fatalf("expected approved, got %+v", out)
	}
}

func TestAggregateRejectWins(t *testing.T) {
	out, err := Aggregate([]domain.Review{
		submitted("r1", domain.DecisionApprove),
		submitted("r2", domain.DecisionReject),
		submitted("r3", domain.DecisionReturn),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if out.Status != domain.StatusRejected {
		t.Fatalf("expected rejected, got %s", out.Status)
	}
}

func TestAggregateReturnBeatsApprove(t *testing.T) {
	out, err := Aggregate([]domain.Review{
		submitted("r1", domain.DecisionReturn),
		submitted("r2", domain.DecisionApprove),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if out.Status != domain.StatusReturned {
		t.Fatalf("expected returned, got %s", out.Status)
	}
}

func TestAggregateIncomplete(t *testing.T) {
	out, err := Aggregate([]domain.Review{
		submitted("r1", domain.DecisionApprove),
		pending("r2"),
		pending("r3"),
	})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if out.Complete {
		t.Fatalf("expected incomplete")
	}
	if len(out.Pending) != 2 {
		t.Fatalf("expected 2 pending, got %v", out.Pending)
	}
}

func TestAggregateEmptySet(t *testing.T) {
	out, err := Aggregate(nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !out.Complete {
		t.Fatalf("empty set should be vacuously complete")
	}
}

func TestAggregateSubmittedWithoutDecision(t *testing.T) {
	ts := "2024-01-01T00:00:00Z"
	_, err := Aggregate([]domain.Review{{ID: "r1", SubmittedAt: &ts}})
	if err == nil {
		t.Fatalf("expected integrity error for submitted review without decision")
	}
}
