package logic

import (
	"context"
	"testing"
	"time"

	"github.com/blues/commission/internal/apperr"
	"github.com/blues/commission/internal/config"
	"github.com/blues/commission/internal/database"
	"github.com/blues/commission/internal/gateway"
	"github.com/blues/commission/internal/model"
	"github.com/blues/commission/internal/notify"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

const (
	requester int64 = 10
	assignee  int64 = 20
	stranger  int64 = 30
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var testPaymentConfig = config.PaymentConfig{
	FeeBps:            500,
	GraceDays:         7,
	CancelAfterDays:   3,
	Currency:          "IDR",
	ProcessingTimeout: 15 * time.Minute,
}

type testEnv struct {
	db         *gorm.DB
	clock      *clockwork.FakeClock
	rec        *notify.Recorder
	sandbox    *gateway.Sandbox
	projects   *ProjectLogic
	milestones *MilestoneLogic
	payments   *PaymentLogic
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenInMemory(t.Name())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		db:      db,
		clock:   clockwork.NewFakeClockAt(epoch),
		rec:     notify.NewRecorder(),
		sandbox: gateway.NewSandbox(""),
	}
	env.projects = NewProjectLogic(db, env.clock, env.rec, "IDR")
	env.milestones = NewMilestoneLogic(db, env.clock, env.rec, env.projects)
	env.payments = NewPaymentLogic(db, env.clock, env.rec, env.sandbox, testPaymentConfig, env.projects)
	return env
}

// paymentsVia 共享同一数据库，换用指定网关
func (e *testEnv) paymentsVia(gw gateway.Port) *PaymentLogic {
	return NewPaymentLogic(e.db, e.clock, e.rec, gw, testPaymentConfig, e.projects)
}

// cancellingGateway 在网关调用返回前取消请求 ctx，模拟调用方断开
// failWith 为 true 时调用返回 ctx 的错误，否则照常返回沙箱结果
type cancellingGateway struct {
	*gateway.Sandbox
	cancel   context.CancelFunc
	failWith bool
}

func (g *cancellingGateway) CreateTransaction(ctx context.Context, order gateway.Order) (gateway.Transaction, error) {
	txn, err := g.Sandbox.CreateTransaction(ctx, order)
	g.cancel()
	if g.failWith {
		return gateway.Transaction{}, ctx.Err()
	}
	return txn, err
}

func (g *cancellingGateway) VerifyTransaction(ctx context.Context, ref string) (gateway.Verification, error) {
	v, err := g.Sandbox.VerifyTransaction(ctx, ref)
	g.cancel()
	if g.failWith {
		return gateway.Verification{}, ctx.Err()
	}
	return v, err
}

// openProject 创建一个 30 天后截止的 open 项目
func (e *testEnv) openProject(t *testing.T) *model.ProjectModel {
	t.Helper()
	p, err := e.projects.CreateProject(context.Background(), requester, CreateProjectInput{
		Title:        "Logo redesign",
		BudgetMin:    1_000_000,
		BudgetMax:    2_000_000,
		DurationDays: 21,
		Deadline:     epoch.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

// startedProject 创建并指派承接方
func (e *testEnv) startedProject(t *testing.T) *model.ProjectModel {
	t.Helper()
	p := e.openProject(t)
	p, err := e.projects.AssignContractor(context.Background(), requester, p.Id, assignee)
	if err != nil {
		t.Fatalf("AssignContractor: %v", err)
	}
	e.rec.Reset()
	return p
}

func (e *testEnv) createBatch(t *testing.T, projectId int64, weights ...int) []model.ProjectMilestoneModel {
	t.Helper()
	specs := make([]MilestoneSpec, len(weights))
	for i, w := range weights {
		specs[i] = MilestoneSpec{Title: "Step", WeightPercentage: w}
	}
	ms, err := e.milestones.CreateBatch(context.Background(), requester, projectId, specs)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return ms
}

func (e *testEnv) approve(t *testing.T, milestoneId int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.milestones.Submit(ctx, assignee, milestoneId, SubmitInput{
		Deliverables:         []model.Deliverable{{Label: "draft", URL: "https://files.local/draft.pdf"}},
		CompletionPercentage: 100,
	}); err != nil {
		t.Fatalf("Submit(%d): %v", milestoneId, err)
	}
	if _, err := e.milestones.Review(ctx, requester, milestoneId, ReviewInput{Decision: model.ReviewApprove}); err != nil {
		t.Fatalf("Review(%d): %v", milestoneId, err)
	}
}

func (e *testEnv) projectStatus(t *testing.T, projectId int64) model.ProjectStatus {
	t.Helper()
	var p model.ProjectModel
	if err := e.db.First(&p, projectId).Error; err != nil {
		t.Fatalf("load project: %v", err)
	}
	return p.Status
}

func (e *testEnv) countTitle(title string) int {
	n := 0
	for _, sent := range e.rec.Sent() {
		if sent.Title == title {
			n++
		}
	}
	return n
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %q (%v)", kind, got, err)
	}
}
