package model

import "testing"

func TestProjectTransitions(t *testing.T) {
	cases := []struct {
		from, to ProjectStatus
		ok       bool
	}{
		{ProjectStatusOpen, ProjectStatusInProgress, true},
		{ProjectStatusOpen, ProjectStatusCompleted, false},
		{ProjectStatusInProgress, ProjectStatusCompletionRequested, true},
		{ProjectStatusInProgress, ProjectStatusReadyForSettlement, true},
		{ProjectStatusCompletionRequested, ProjectStatusCompleted, true},
		{ProjectStatusReadyForSettlement, ProjectStatusCompleted, true},
		{ProjectStatusReadyForSettlement, ProjectStatusInProgress, false},
		{ProjectStatusOverdue, ProjectStatusCancelled, true},
		{ProjectStatusCompleted, ProjectStatusCancelled, false},
		{ProjectStatusCancelled, ProjectStatusOpen, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestNonTerminalProjectStatesReachCancelAndOverdue(t *testing.T) {
	for _, s := range []ProjectStatus{
		ProjectStatusOpen, ProjectStatusInProgress,
		ProjectStatusCompletionRequested, ProjectStatusReadyForSettlement,
	} {
		if !s.CanTransitionTo(ProjectStatusCancelled) || !s.CanTransitionTo(ProjectStatusOverdue) {
			t.Fatalf("%s must reach cancelled and overdue", s)
		}
		if s.IsTerminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
}

func TestMilestoneTransitions(t *testing.T) {
	if MilestoneStatusCompleted.CanTransitionTo(MilestoneStatusSubmitted) {
		t.Fatalf("completed milestone must not be resubmitted")
	}
	if !MilestoneStatusSubmitted.CanTransitionTo(MilestoneStatusPending) {
		t.Fatalf("rejection must loop back to pending")
	}
	if MilestoneStatusSubmitted.CanTransitionTo(MilestoneStatusOverdue) {
		t.Fatalf("submitted milestone must not become overdue")
	}
	if MilestoneStatusCompleted.Editable() {
		t.Fatalf("completed milestone must not be editable")
	}
}

func TestPaymentTransitions(t *testing.T) {
	if !PaymentStatusCompleted.CanTransitionTo(PaymentStatusRefundRequested) {
		t.Fatalf("completed payment must allow refund request")
	}
	if PaymentStatusPending.CanTransitionTo(PaymentStatusRefundRequested) {
		t.Fatalf("pending payment must not allow refund request")
	}
	if PaymentStatusRefundRequested.CanTransitionTo(PaymentStatusCompleted) {
		t.Fatalf("refund review does not auto-resolve")
	}
}
