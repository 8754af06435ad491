package logic

import (
	"context"
	"testing"

	"github.com/blues/commission/internal/apperr"
	"github.com/blues/commission/internal/model"
)

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	valid := CreateProjectInput{
		Title: "Landing page", BudgetMin: 100, BudgetMax: 200, Deadline: epoch.AddDate(0, 0, 10),
	}
	cases := []struct {
		name   string
		mutate func(*CreateProjectInput)
		code   string
	}{
		{"missing title", func(in *CreateProjectInput) { in.Title = " " }, apperr.CodeFieldInvalid},
		{"zero budget", func(in *CreateProjectInput) { in.BudgetMin = 0 }, apperr.CodeAmountInvalid},
		{"inverted budget", func(in *CreateProjectInput) { in.BudgetMin = 500 }, apperr.CodeAmountInvalid},
		{"past deadline", func(in *CreateProjectInput) { in.Deadline = epoch.Add(-1) }, apperr.CodeDueDateInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			_, err := env.projects.CreateProject(ctx, requester, in)
			wantKind(t, err, apperr.KindValidation)
			if code := apperr.CodeOf(err); code != tc.code {
				t.Fatalf("code = %s, want %s", code, tc.code)
			}
		})
	}

	p, err := env.projects.CreateProject(ctx, requester, valid)
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.Status != model.ProjectStatusOpen || p.Currency != "IDR" {
		t.Fatalf("unexpected project %+v", p)
	}
}

func TestAssignContractorStartsProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.openProject(t)

	got, err := env.projects.AssignContractor(ctx, requester, p.Id, assignee)
	if err != nil {
		t.Fatalf("AssignContractor: %v", err)
	}
	if got.Status != model.ProjectStatusInProgress || !got.IsAssignee(assignee) {
		t.Fatalf("project not started: %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(epoch) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, epoch)
	}
	if got.EstimatedCompletionAt == nil || !got.EstimatedCompletionAt.Equal(epoch.AddDate(0, 0, 21)) {
		t.Fatalf("estimated_completion_at = %v", got.EstimatedCompletionAt)
	}
	if len(env.rec.For(requester)) != 1 || len(env.rec.For(assignee)) != 1 {
		t.Fatalf("both parties must be notified once, got %+v", env.rec.Sent())
	}

	_, err = env.projects.AssignContractor(ctx, requester, p.Id, stranger)
	wantKind(t, err, apperr.KindInvalidStateTransition)
}

func TestAssignContractorByStrangerIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	p := env.openProject(t)

	_, err := env.projects.AssignContractor(context.Background(), stranger, p.Id, assignee)
	wantKind(t, err, apperr.KindNotFound)

	_, err = env.projects.GetProject(context.Background(), stranger, p.Id)
	wantKind(t, err, apperr.KindNotFound)
}

func TestRequestCompletionNeedsMandatoryMilestones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	env.createBatch(t, p.Id, 60, 40)

	_, err := env.projects.RequestCompletion(ctx, assignee, p.Id, "done")
	wantKind(t, err, apperr.KindPreconditionFailed)
	if env.projectStatus(t, p.Id) != model.ProjectStatusInProgress {
		t.Fatalf("failed request must not move the project")
	}
}

func TestCompletionWithoutMilestones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)

	got, err := env.projects.RequestCompletion(ctx, assignee, p.Id, "shipped")
	if err != nil {
		t.Fatalf("RequestCompletion: %v", err)
	}
	if got.Status != model.ProjectStatusCompletionRequested || got.CompletionRequestedAt == nil {
		t.Fatalf("unexpected project %+v", got)
	}

	got, err = env.projects.ApproveCompletion(ctx, requester, p.Id, "thanks")
	if err != nil {
		t.Fatalf("ApproveCompletion: %v", err)
	}
	if got.Status != model.ProjectStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected project %+v", got)
	}

	_, err = env.projects.ApproveCompletion(ctx, requester, p.Id, "")
	wantKind(t, err, apperr.KindInvalidStateTransition)
}

func TestApproveCompletionNeedsSettlementState(t *testing.T) {
	env := newTestEnv(t)
	p := env.startedProject(t)

	_, err := env.projects.ApproveCompletion(context.Background(), requester, p.Id, "")
	wantKind(t, err, apperr.KindInvalidStateTransition)
}

func TestForceOverdueIsCompareAndTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)

	out, err := env.projects.ForceOverdue(ctx, p.Id, model.ProjectStatusInProgress, 2)
	if err != nil || !out.Moved {
		t.Fatalf("ForceOverdue = %+v, %v", out, err)
	}
	if out.Notified != 2 {
		t.Fatalf("notified = %d, want both parties", out.Notified)
	}
	out, err = env.projects.ForceOverdue(ctx, p.Id, model.ProjectStatusInProgress, 2)
	if err != nil || out.Moved {
		t.Fatalf("second ForceOverdue = %+v, %v, want no-op", out, err)
	}
	if n := env.countTitle("Project overdue"); n != 2 {
		t.Fatalf("overdue notifications = %d, want 2", n)
	}
}

func TestExtendDeadlineRestoresOverdueProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	if _, err := env.projects.ForceOverdue(ctx, p.Id, model.ProjectStatusInProgress, 1); err != nil {
		t.Fatalf("ForceOverdue: %v", err)
	}

	_, err := env.projects.ExtendDeadline(ctx, requester, p.Id, epoch.Add(-1))
	wantKind(t, err, apperr.KindValidation)

	got, err := env.projects.ExtendDeadline(ctx, requester, p.Id, epoch.AddDate(0, 0, 60))
	if err != nil {
		t.Fatalf("ExtendDeadline: %v", err)
	}
	if got.Status != model.ProjectStatusInProgress || got.OverdueAt != nil {
		t.Fatalf("overdue project not restored: %+v", got)
	}
}

func TestReconcileRederivesSettlementSignal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	env.createBatch(t, p.Id, 50, 50)

	// 模拟里程碑已落库但信号丢失
	if err := env.db.Model(&model.ProjectMilestoneModel{}).
		Where("project_id = ?", p.Id).
		Updates(map[string]interface{}{"status": model.MilestoneStatusCompleted, "completion_percentage": 100}).Error; err != nil {
		t.Fatalf("seed milestones: %v", err)
	}

	out, err := env.projects.Reconcile(ctx, p.Id)
	if err != nil || !out.Moved {
		t.Fatalf("Reconcile = %+v, %v", out, err)
	}
	if env.projectStatus(t, p.Id) != model.ProjectStatusReadyForSettlement {
		t.Fatalf("project not ready for settlement")
	}
	out, err = env.projects.Reconcile(ctx, p.Id)
	if err != nil || out.Moved {
		t.Fatalf("second Reconcile = %+v, %v, want no-op", out, err)
	}
}

func TestListProjectsOnlyShowsParties(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startedProject(t)
	env.openProject(t)

	all, total, err := env.projects.ListProjects(ctx, requester, "", 1, 10)
	if err != nil || total != 2 || len(all) != 2 {
		t.Fatalf("requester list = %d/%d, %v", len(all), total, err)
	}
	mine, total, err := env.projects.ListProjects(ctx, assignee, model.ProjectStatusInProgress, 1, 10)
	if err != nil || total != 1 || len(mine) != 1 {
		t.Fatalf("assignee list = %d/%d, %v", len(mine), total, err)
	}
	none, _, err := env.projects.ListProjects(ctx, stranger, "", 1, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("stranger list = %d, %v", len(none), err)
	}
}
