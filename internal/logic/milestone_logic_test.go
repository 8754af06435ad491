package logic

import (
	"context"
	"testing"
	"time"

	"github.com/blues/commission/internal/apperr"
	"github.com/blues/commission/internal/model"
)

func TestComputeProgressWeighted(t *testing.T) {
	milestones := []model.ProjectMilestoneModel{
		{Id: 1, Number: 1, WeightPercentage: 40, Status: model.MilestoneStatusCompleted, Mandatory: true},
		{Id: 2, Number: 2, WeightPercentage: 30, Status: model.MilestoneStatusCompleted, Mandatory: true},
		{Id: 3, Number: 3, WeightPercentage: 30, Status: model.MilestoneStatusPending, CompletionPercentage: 50, Mandatory: true},
	}
	s := ComputeProgress(7, milestones)
	if s.Overall != 85 {
		t.Fatalf("overall = %v, want 85", s.Overall)
	}
	if s.MandatoryTotal != 3 || s.MandatoryCompleted != 2 || s.AllMandatoryCompleted {
		t.Fatalf("unexpected mandatory counts %+v", s)
	}
	if s.OutstandingMandatory() != 1 {
		t.Fatalf("outstanding = %d, want 1", s.OutstandingMandatory())
	}
}

func TestComputeProgressCompletedCountsAsFull(t *testing.T) {
	s := ComputeProgress(1, []model.ProjectMilestoneModel{
		{WeightPercentage: 100, Status: model.MilestoneStatusCompleted, CompletionPercentage: 20},
	})
	if s.Overall != 100 {
		t.Fatalf("overall = %v, want 100", s.Overall)
	}
	if empty := ComputeProgress(1, nil); empty.Overall != 0 || readyForSettlement(empty) {
		t.Fatalf("empty project must be 0%% and never ready: %+v", empty)
	}
}

func TestCreateBatchRejectsBadWeights(t *testing.T) {
	env := newTestEnv(t)
	p := env.startedProject(t)

	cases := []struct {
		name    string
		weights []int
	}{
		{"under", []int{40, 40}},
		{"over", []int{60, 50}},
		{"zero weight", []int{100, 0}},
		{"single over", []int{101}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			specs := make([]MilestoneSpec, len(tc.weights))
			for i, w := range tc.weights {
				specs[i] = MilestoneSpec{Title: "x", WeightPercentage: w}
			}
			_, err := env.milestones.CreateBatch(context.Background(), requester, p.Id, specs)
			wantKind(t, err, apperr.KindValidation)
			if apperr.CodeOf(err) != apperr.CodeWeightSumInvalid {
				t.Fatalf("code = %s", apperr.CodeOf(err))
			}
		})
	}

	var count int64
	env.db.Model(&model.ProjectMilestoneModel{}).Where("project_id = ?", p.Id).Count(&count)
	if count != 0 {
		t.Fatalf("rejected batches left %d rows", count)
	}
}

func TestCreateBatchRequiresInProgressProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.openProject(t)

	_, err := env.milestones.CreateBatch(context.Background(), requester, p.Id, []MilestoneSpec{
		{Title: "all", WeightPercentage: 100},
	})
	wantKind(t, err, apperr.KindPreconditionFailed)
}

func TestCreateBatchNumbersAndSpreadsDueDates(t *testing.T) {
	env := newTestEnv(t)
	p := env.startedProject(t)

	explicit := epoch.AddDate(0, 0, 5)
	optional := false
	ms, err := env.milestones.CreateBatch(context.Background(), requester, p.Id, []MilestoneSpec{
		{Title: "sketch", WeightPercentage: 20},
		{Title: "draft", WeightPercentage: 30, DueDate: &explicit},
		{Title: "final", WeightPercentage: 50, Mandatory: &optional},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	want := []time.Time{epoch.AddDate(0, 0, 10), explicit, epoch.AddDate(0, 0, 30)}
	for i, m := range ms {
		if m.Number != i+1 {
			t.Fatalf("milestone %d number = %d", i, m.Number)
		}
		if !m.DueDate.Equal(want[i]) {
			t.Fatalf("milestone %d due = %v, want %v", m.Number, m.DueDate, want[i])
		}
		if m.Status != model.MilestoneStatusPending {
			t.Fatalf("milestone %d status = %s", m.Number, m.Status)
		}
	}
	if !ms[0].Mandatory || ms[2].Mandatory {
		t.Fatalf("mandatory flags not applied: %v %v", ms[0].Mandatory, ms[2].Mandatory)
	}

	_, err = env.milestones.CreateBatch(context.Background(), requester, p.Id, []MilestoneSpec{
		{Title: "again", WeightPercentage: 100},
	})
	wantKind(t, err, apperr.KindConflict)
}

func TestApprovingLastMandatoryMilestoneSignalsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 40, 30, 30)

	env.approve(t, ms[0].Id)
	env.approve(t, ms[1].Id)
	if _, err := env.milestones.ReportProgress(ctx, assignee, ms[2].Id, 50); err != nil {
		t.Fatalf("ReportProgress: %v", err)
	}

	progress, err := env.projects.GetProgress(ctx, requester, p.Id)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if progress.Overall != 85 {
		t.Fatalf("overall = %v, want 85", progress.Overall)
	}
	if env.projectStatus(t, p.Id) != model.ProjectStatusInProgress {
		t.Fatalf("project moved before all mandatory milestones were approved")
	}

	env.approve(t, ms[2].Id)
	if env.projectStatus(t, p.Id) != model.ProjectStatusReadyForSettlement {
		t.Fatalf("project not ready for settlement")
	}

	_, err = env.milestones.Review(ctx, requester, ms[2].Id, ReviewInput{Decision: model.ReviewApprove})
	wantKind(t, err, apperr.KindInvalidStateTransition)

	if n := env.countTitle("Ready for settlement"); n != 2 {
		t.Fatalf("ready notifications = %d, want one per party", n)
	}

	var cached model.ProjectModel
	env.db.First(&cached, p.Id)
	if cached.ProgressPercentage != 100 {
		t.Fatalf("cached progress = %v, want 100", cached.ProgressPercentage)
	}
}

func TestOptionalMilestonesDoNotBlockSettlement(t *testing.T) {
	env := newTestEnv(t)
	optional := false
	p := env.startedProject(t)
	ms, err := env.milestones.CreateBatch(context.Background(), requester, p.Id, []MilestoneSpec{
		{Title: "core", WeightPercentage: 70},
		{Title: "extra", WeightPercentage: 30, Mandatory: &optional},
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	env.approve(t, ms[0].Id)
	if env.projectStatus(t, p.Id) != model.ProjectStatusReadyForSettlement {
		t.Fatalf("optional milestone blocked settlement")
	}
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)

	_, err := env.milestones.Review(ctx, requester, ms[0].Id, ReviewInput{Decision: model.ReviewApprove})
	wantKind(t, err, apperr.KindInvalidStateTransition)

	if _, err := env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{CompletionPercentage: 150}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, _ := env.milestones.Get(ctx, requester, ms[0].Id)
	if got.CompletionPercentage != 100 || got.Status != model.MilestoneStatusSubmitted || got.SubmittedAt == nil {
		t.Fatalf("submission not recorded: %+v", got)
	}

	for _, rating := range []int{0, 6} {
		r := rating
		_, err = env.milestones.Review(ctx, requester, ms[0].Id, ReviewInput{Decision: model.ReviewApprove, Rating: &r})
		wantKind(t, err, apperr.KindValidation)
		if apperr.CodeOf(err) != apperr.CodeRatingOutOfRange {
			t.Fatalf("rating %d: code = %s", rating, apperr.CodeOf(err))
		}
	}

	_, err = env.milestones.Review(ctx, assignee, ms[0].Id, ReviewInput{Decision: model.ReviewApprove})
	wantKind(t, err, apperr.KindNotFound)

	five := 5
	got, err = env.milestones.Review(ctx, requester, ms[0].Id, ReviewInput{Decision: model.ReviewApprove, Rating: &five})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got.Rating == nil || *got.Rating != 5 || got.ApprovedAt == nil {
		t.Fatalf("approval not recorded: %+v", got)
	}
}

func TestRejectLoopsBackForResubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)

	if _, err := env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{CompletionPercentage: 90}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := env.milestones.Review(ctx, requester, ms[0].Id, ReviewInput{Decision: model.ReviewReject, Feedback: "colors are off"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if got.Status != model.MilestoneStatusPending || got.RevisionCount != 1 || got.Rating != nil {
		t.Fatalf("rejection not recorded: %+v", got)
	}
	if len(env.rec.For(assignee)) == 0 {
		t.Fatalf("assignee was not told about the rejection")
	}

	if _, err := env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{CompletionPercentage: 100}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestReviewOnCancelledProjectIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)

	if _, err := env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{CompletionPercentage: 100}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	out, err := env.projects.ForceCancel(ctx, p.Id, model.ProjectStatusInProgress, "abandoned")
	if err != nil || !out.Moved {
		t.Fatalf("ForceCancel = %+v, %v", out, err)
	}

	for _, decision := range []model.ReviewDecision{model.ReviewApprove, model.ReviewReject} {
		_, err = env.milestones.Review(ctx, requester, ms[0].Id, ReviewInput{Decision: decision})
		wantKind(t, err, apperr.KindInvalidStateTransition)
	}

	var stored model.ProjectMilestoneModel
	env.db.First(&stored, ms[0].Id)
	if stored.Status != model.MilestoneStatusSubmitted || stored.ApprovedAt != nil {
		t.Fatalf("milestone changed on a cancelled project: %+v", stored)
	}
	if env.projectStatus(t, p.Id) != model.ProjectStatusCancelled {
		t.Fatalf("project left cancelled state")
	}
}

func TestSubmitRejectsNegativeCompletionAndCompletedMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)

	_, err := env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{CompletionPercentage: -1})
	wantKind(t, err, apperr.KindValidation)

	env.approve(t, ms[0].Id)
	_, err = env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{CompletionPercentage: 100})
	wantKind(t, err, apperr.KindInvalidStateTransition)
}

func TestUpdateKeepsWeightSum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 50, 50)

	w := 70
	_, err := env.milestones.Update(ctx, requester, ms[0].Id, UpdateInput{WeightPercentage: &w})
	wantKind(t, err, apperr.KindValidation)
	if apperr.CodeOf(err) != apperr.CodeWeightSumInvalid {
		t.Fatalf("code = %s", apperr.CodeOf(err))
	}

	title := "Moodboard"
	got, err := env.milestones.Update(ctx, requester, ms[0].Id, UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != title || got.WeightPercentage != 50 {
		t.Fatalf("unexpected milestone %+v", got)
	}

	updated, err := env.milestones.Reweight(ctx, requester, p.Id, map[int64]int{ms[0].Id: 70, ms[1].Id: 30})
	if err != nil {
		t.Fatalf("Reweight: %v", err)
	}
	if updated[0].WeightPercentage != 70 || updated[1].WeightPercentage != 30 {
		t.Fatalf("weights not applied: %+v", updated)
	}

	_, err = env.milestones.Reweight(ctx, requester, p.Id, map[int64]int{ms[0].Id: 10})
	wantKind(t, err, apperr.KindValidation)
}

func TestCompletedMilestoneIsNotEditable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)
	env.approve(t, ms[0].Id)

	title := "late edit"
	_, err := env.milestones.Update(ctx, requester, ms[0].Id, UpdateInput{Title: &title})
	wantKind(t, err, apperr.KindInvalidStateTransition)
}

func TestMoveDueDateRestoresOverdueMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)

	out, err := env.milestones.MarkOverdue(ctx, ms[0].Id, model.MilestoneStatusPending)
	if err != nil || !out.Moved {
		t.Fatalf("MarkOverdue = %+v, %v", out, err)
	}
	out, err = env.milestones.MarkOverdue(ctx, ms[0].Id, model.MilestoneStatusPending)
	if err != nil || out.Moved {
		t.Fatalf("second MarkOverdue = %+v, %v, want no-op", out, err)
	}

	due := epoch.AddDate(0, 0, 40)
	got, err := env.milestones.Update(ctx, requester, ms[0].Id, UpdateInput{DueDate: &due})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != model.MilestoneStatusPending || got.OverdueAt != nil {
		t.Fatalf("overdue milestone not restored: %+v", got)
	}
}

func TestOverdueMilestoneCanStillBeSubmitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.startedProject(t)
	ms := env.createBatch(t, p.Id, 100)

	if _, err := env.milestones.MarkOverdue(ctx, ms[0].Id, model.MilestoneStatusPending); err != nil {
		t.Fatalf("MarkOverdue: %v", err)
	}
	got, err := env.milestones.Submit(ctx, assignee, ms[0].Id, SubmitInput{
		Deliverables:         []model.Deliverable{{Label: "final", URL: "https://files.local/final.zip"}},
		CompletionPercentage: 100,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.MilestoneStatusSubmitted || len(got.Submission) != 1 {
		t.Fatalf("late submission not recorded: %+v", got)
	}
}
