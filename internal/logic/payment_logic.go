package logic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/blues/commission/internal/apperr"
	"github.com/blues/commission/internal/config"
	"github.com/blues/commission/internal/gateway"
	"github.com/blues/commission/internal/logger"
	"github.com/blues/commission/internal/metrics"
	"github.com/blues/commission/internal/model"
	"github.com/blues/commission/internal/notify"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const entityPayment = "payment"

// MaxPaymentAmount 单笔金额上限，保证手续费计算不溢出
const MaxPaymentAmount = math.MaxInt64 / 10000

const defaultProcessingTimeout = 15 * time.Minute

// PaymentLogic 托管支付业务逻辑
type PaymentLogic struct {
	db       *gorm.DB
	clock    clockwork.Clock
	notifier notify.Notifier
	gw       gateway.Port
	cfg      config.PaymentConfig
	projects *ProjectLogic
}

// NewPaymentLogic 创建托管支付业务逻辑
func NewPaymentLogic(db *gorm.DB, clock clockwork.Clock, notifier notify.Notifier, gw gateway.Port, cfg config.PaymentConfig, projects *ProjectLogic) *PaymentLogic {
	return &PaymentLogic{db: db, clock: clock, notifier: notifier, gw: gw, cfg: cfg, projects: projects}
}

// InitiateInput 发起支付参数
type InitiateInput struct {
	ProjectId int64              `json:"project_id"`
	Phase     model.PaymentPhase `json:"phase"`
	Amount    int64              `json:"amount"`
	Method    string             `json:"method"`
}

// ComputeFee 计算平台手续费与承接方实收，向下取整
// amount 超过 MaxPaymentAmount 时返回 CodeAmountInvalid
func ComputeFee(amount, feeBps int64) (adminFee, netAmount int64, err error) {
	if amount > MaxPaymentAmount {
		return 0, 0, apperr.Validation(apperr.CodeAmountInvalid, "amount %d exceeds the maximum of %d", amount, int64(MaxPaymentAmount))
	}
	adminFee = amount * feeBps / 10000
	return adminFee, amount - adminFee, nil
}

// InitiatePayment 委托方发起某一阶段的支付，返回支付记录与网关跳转地址
// 网关调用失败时记录被标记为 failed，不会留下悬空的 pending 记录
func (p *PaymentLogic) InitiatePayment(ctx context.Context, requesterId int64, in InitiateInput) (*model.PaymentRecordModel, string, error) {
	if !in.Phase.Valid() {
		return nil, "", apperr.Validation(apperr.CodeFieldInvalid, "unknown payment phase %q", in.Phase)
	}
	if in.Amount <= 0 {
		return nil, "", apperr.Validation(apperr.CodeAmountInvalid, "amount must be positive")
	}
	if in.Amount > MaxPaymentAmount {
		return nil, "", apperr.Validation(apperr.CodeAmountInvalid, "amount %d exceeds the maximum of %d", in.Amount, int64(MaxPaymentAmount))
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		return nil, "", apperr.Validation(apperr.CodeFieldInvalid, "payment method is required")
	}

	var payment model.PaymentRecordModel
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := p.projects.loadForRequester(lockForUpdate(tx), requesterId, in.ProjectId)
		if err != nil {
			return err
		}
		if project.AssigneeId == nil {
			return apperr.PreconditionFailed("project %d has no assignee", project.Id)
		}
		if err := p.checkPhaseGate(tx, project, in.Phase); err != nil {
			return err
		}
		if err := p.checkPhaseFree(tx, project.Id, in.Phase); err != nil {
			return err
		}

		now := p.clock.Now()
		adminFee, net, err := ComputeFee(in.Amount, p.cfg.FeeBps)
		if err != nil {
			return err
		}
		payment = model.PaymentRecordModel{
			ProjectId:   project.Id,
			PayerId:     project.RequesterId,
			PayeeId:     *project.AssigneeId,
			Phase:       in.Phase,
			Amount:      in.Amount,
			AdminFee:    adminFee,
			NetAmount:   net,
			Currency:    project.Currency,
			Method:      method,
			GatewayName: p.gw.Name(),
			GatewayMeta: datatypes.NewJSONType(model.GatewayMeta{}),
			Status:      model.PaymentStatusPending,
			DueDate:     now.AddDate(0, 0, p.cfg.GraceDays).UTC(),
		}
		if err := tx.Create(&payment).Error; err != nil {
			if isDuplicateKey(err) {
				return apperr.Conflict("a live %s payment already exists for project %d", in.Phase, project.Id)
			}
			return fmt.Errorf("create payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	txn, err := p.gw.CreateTransaction(ctx, gateway.Order{
		PaymentId: payment.Id,
		ProjectId: payment.ProjectId,
		PayerId:   payment.PayerId,
		Phase:     payment.Phase,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Method:    payment.Method,
	})
	if err != nil {
		logger.Error("gateway %s create transaction for payment %d failed: %v", p.gw.Name(), payment.Id, err)
		if markErr := p.markInitiationFailed(ctx, &payment, err); markErr != nil {
			return nil, "", markErr
		}
		return nil, "", gatewayError(err)
	}

	// 网关已受理订单，请求被取消也要落库，否则回调无法匹配
	if err := p.db.WithContext(context.WithoutCancel(ctx)).Model(&model.PaymentRecordModel{}).
		Where("id = ?", payment.Id).
		Updates(map[string]interface{}{
			"transaction_ref": txn.TransactionRef,
			"redirect_target": txn.RedirectTarget,
		}).Error; err != nil {
		logger.Error("store transaction ref %s for payment %d failed: %v", txn.TransactionRef, payment.Id, err)
		storeErr := fmt.Errorf("store transaction ref: %w", err)
		if markErr := p.markInitiationFailed(ctx, &payment, storeErr); markErr != nil {
			return nil, "", errors.Join(storeErr, markErr)
		}
		return nil, "", storeErr
	}
	payment.TransactionRef = txn.TransactionRef
	payment.RedirectTarget = txn.RedirectTarget
	metrics.IncrementPaymentTransition(string(payment.Phase), string(model.PaymentStatusPending))

	notify.NotifyParties(ctx, p.notifier, []int64{payment.PayerId}, model.Notification{
		Title:    "Payment initiated",
		Message:  fmt.Sprintf("Your %s payment of %d %s is awaiting confirmation.", payment.Phase, payment.Amount, payment.Currency),
		Category: model.NotificationPayment,
		Related:  paymentRef(&payment),
	})
	return &payment, txn.RedirectTarget, nil
}

// checkPhaseGate 首付款要求项目进行中，尾款要求项目待结算
func (p *PaymentLogic) checkPhaseGate(tx *gorm.DB, project *model.ProjectModel, phase model.PaymentPhase) error {
	switch phase {
	case model.PaymentPhaseInitial:
		if project.Status != model.ProjectStatusInProgress {
			return apperr.PreconditionFailed("initial payment requires an in progress project, current status is %s", project.Status)
		}
	case model.PaymentPhaseFinal:
		switch project.Status {
		case model.ProjectStatusReadyForSettlement:
		case model.ProjectStatusCompletionRequested:
			snapshot, err := loadProgress(tx, project.Id)
			if err != nil {
				return fmt.Errorf("load progress: %w", err)
			}
			if snapshot.MandatoryTotal > 0 {
				return apperr.PreconditionFailed("final payment requires all mandatory milestones to be approved")
			}
		default:
			return apperr.PreconditionFailed("final payment requires a project ready for settlement, current status is %s", project.Status)
		}
	}
	return nil
}

// checkPhaseFree 同一阶段同时只允许一条 pending/processing 记录，已结清的阶段不可再发起
func (p *PaymentLogic) checkPhaseFree(tx *gorm.DB, projectId int64, phase model.PaymentPhase) error {
	var existing []model.PaymentRecordModel
	if err := tx.Select("id", "status").
		Where("project_id = ? AND phase = ?", projectId, phase).
		Where("status IN ?", append(append([]model.PaymentStatus{}, model.LivePaymentStatuses...), model.SettledPaymentStatuses...)).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("check existing payments: %w", err)
	}
	for _, e := range existing {
		switch e.Status {
		case model.PaymentStatusPending, model.PaymentStatusProcessing:
			return apperr.Conflict("payment %d for the %s phase is still %s", e.Id, phase, e.Status)
		default:
			return apperr.Conflict("the %s phase is already settled by payment %d", phase, e.Id)
		}
	}
	return nil
}

// markInitiationFailed 发起失败时把记录置为 failed，不受请求取消影响
func (p *PaymentLogic) markInitiationFailed(ctx context.Context, payment *model.PaymentRecordModel, cause error) error {
	meta := model.GatewayMeta{Attempts: 1, LastError: cause.Error()}
	res := p.db.WithContext(context.WithoutCancel(ctx)).Model(&model.PaymentRecordModel{}).
		Where("id = ? AND status = ?", payment.Id, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":       model.PaymentStatusFailed,
			"notes":        "gateway error: " + cause.Error(),
			"gateway_meta": datatypes.NewJSONType(meta),
		})
	if res.Error != nil {
		return fmt.Errorf("mark payment failed: %w", res.Error)
	}
	payment.Status = model.PaymentStatusFailed
	metrics.IncrementPaymentTransition(string(payment.Phase), string(model.PaymentStatusFailed))
	return nil
}

// VerifyPayment 处理网关回调，对已完成的记录重复回调不产生任何变化
func (p *PaymentLogic) VerifyPayment(ctx context.Context, paymentId int64, transactionRef string) (*model.PaymentRecordModel, error) {
	if strings.TrimSpace(transactionRef) == "" {
		return nil, apperr.Validation(apperr.CodeFieldInvalid, "transaction_ref is required")
	}

	db := p.db.WithContext(ctx)
	var payment model.PaymentRecordModel
	if err := db.Where("id = ? AND transaction_ref = ?", paymentId, transactionRef).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(entityPayment, paymentId)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if done, err := verifyShortcut(&payment); err != nil {
		return nil, err
	} else if done {
		return &payment, nil
	}

	// 先占位为 processing，并发回调只有一个能继续
	claimedAt := p.clock.Now().UTC()
	res := db.Model(&model.PaymentRecordModel{}).
		Where("id = ? AND status = ?", payment.Id, model.PaymentStatusPending).
		Updates(map[string]interface{}{
			"status":           model.PaymentStatusProcessing,
			"processing_since": claimedAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.First(&payment, payment.Id).Error; err != nil {
			return nil, fmt.Errorf("reload payment: %w", err)
		}
		if done, err := verifyShortcut(&payment); err != nil {
			return nil, err
		} else if done {
			return &payment, nil
		}
		return nil, apperr.Conflict("payment %d is being verified", payment.Id)
	}
	payment.Status = model.PaymentStatusProcessing
	payment.ProcessingSince = &claimedAt

	meta := payment.GatewayMeta.Data()
	meta.Attempts++
	result, err := p.gw.VerifyTransaction(ctx, transactionRef)
	if err != nil {
		logger.Error("gateway %s verify transaction %s for payment %d failed: %v", p.gw.Name(), transactionRef, payment.Id, err)
		meta.LastError = err.Error()
		if releaseErr := p.releaseClaim(ctx, payment.Id, meta); releaseErr != nil {
			return nil, errors.Join(gatewayError(err), releaseErr)
		}
		if errors.Is(err, gateway.ErrUnknownTransaction) {
			return nil, apperr.NotFound(entityPayment, paymentId)
		}
		return nil, gatewayError(err)
	}

	now := p.clock.Now()
	meta.Settled = result.Settled
	meta.FraudAccepted = result.FraudAccepted
	meta.VerifiedAt = &now
	meta.LastError = ""

	var ob outbox
	err = db.Transaction(func(tx *gorm.DB) error {
		if result.Settled && result.FraudAccepted {
			if err := p.transition(tx, &payment, model.PaymentStatusCompleted, map[string]interface{}{
				"paid_at":          now,
				"processing_since": nil,
				"gateway_meta":     datatypes.NewJSONType(meta),
			}); err != nil {
				return err
			}
			payment.PaidAt = &now

			switch payment.Phase {
			case model.PaymentPhaseInitial:
				if err := p.projects.ensureInProgress(tx, payment.ProjectId); err != nil {
					return err
				}
			case model.PaymentPhaseFinal:
				if err := p.projects.settleFinal(tx, payment.ProjectId, &ob); err != nil {
					return err
				}
			}
			ob.add([]int64{payment.PayerId, payment.PayeeId}, model.NotificationPayment, paymentRef(&payment),
				"Payment received",
				fmt.Sprintf("The %s payment of %d %s has settled.", payment.Phase, payment.Amount, payment.Currency))
			return nil
		}

		if err := p.transition(tx, &payment, model.PaymentStatusFailed, map[string]interface{}{
			"processing_since": nil,
			"gateway_meta":     datatypes.NewJSONType(meta),
			"notes":            "gateway declined the transaction",
		}); err != nil {
			return err
		}
		ob.add([]int64{payment.PayerId}, model.NotificationPayment, paymentRef(&payment),
			"Payment failed",
			fmt.Sprintf("The %s payment of %d %s did not go through.", payment.Phase, payment.Amount, payment.Currency))
		return nil
	})
	if err != nil {
		logger.Error("settle payment %d failed, releasing claim: %v", payment.Id, err)
		meta.LastError = err.Error()
		if releaseErr := p.releaseClaim(ctx, payment.Id, meta); releaseErr != nil {
			return nil, errors.Join(err, releaseErr)
		}
		return nil, err
	}
	ob.flush(ctx, p.notifier)

	payment.ProcessingSince = nil
	payment.GatewayMeta = datatypes.NewJSONType(meta)
	return &payment, nil
}

// releaseClaim 把 processing 占位退回 pending，使网关重发的回调可以再次处理
func (p *PaymentLogic) releaseClaim(ctx context.Context, paymentId int64, meta model.GatewayMeta) error {
	err := p.db.WithContext(context.WithoutCancel(ctx)).Model(&model.PaymentRecordModel{}).
		Where("id = ? AND status = ?", paymentId, model.PaymentStatusProcessing).
		Updates(map[string]interface{}{
			"status":           model.PaymentStatusPending,
			"processing_since": nil,
			"gateway_meta":     datatypes.NewJSONType(meta),
		}).Error
	if err != nil {
		return fmt.Errorf("release payment claim: %w", err)
	}
	return nil
}

// ReleaseStaleClaims 释放占位超时的 processing 记录，返回释放条数
// 回调进程在占位后崩溃时记录会一直卡在 processing，由支付巡检调用
func (p *PaymentLogic) ReleaseStaleClaims(ctx context.Context) (int, error) {
	timeout := p.cfg.ProcessingTimeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	cutoff := p.clock.Now().Add(-timeout).UTC()
	res := p.db.WithContext(ctx).Model(&model.PaymentRecordModel{}).
		Where("status = ? AND processing_since < ?", model.PaymentStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":           model.PaymentStatusPending,
			"processing_since": nil,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("release stale claims: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// verifyShortcut 判断回调是否无需再调用网关
func verifyShortcut(payment *model.PaymentRecordModel) (bool, error) {
	switch payment.Status {
	case model.PaymentStatusPending:
		return false, nil
	case model.PaymentStatusCompleted:
		return true, nil
	case model.PaymentStatusProcessing:
		return false, apperr.Conflict("payment %d is being verified", payment.Id)
	default:
		return false, apperr.InvalidState("payment %d is %s and cannot be verified", payment.Id, payment.Status)
	}
}

// RequestRefund 付款方申请退款，进入人工审核流程
func (p *PaymentLogic) RequestRefund(ctx context.Context, payerId, paymentId int64, reason string) (*model.PaymentRecordModel, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation(apperr.CodeFieldInvalid, "refund reason is required")
	}

	var ob outbox
	var payment *model.PaymentRecordModel
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = p.loadForParty(tx, payerId, paymentId)
		if err != nil {
			return err
		}
		if payment.PayerId != payerId {
			return apperr.NotFound(entityPayment, paymentId)
		}

		now := p.clock.Now()
		if err := p.transition(tx, payment, model.PaymentStatusRefundRequested, map[string]interface{}{
			"refund_reason":       reason,
			"refund_requested_at": now,
		}); err != nil {
			return err
		}
		payment.RefundReason = reason
		payment.RefundRequestedAt = &now

		ob.add([]int64{payment.PayerId, payment.PayeeId}, model.NotificationPayment, paymentRef(payment),
			"Refund requested",
			fmt.Sprintf("A refund was requested for the %s payment of %d %s.", payment.Phase, payment.Amount, payment.Currency))
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.flush(ctx, p.notifier)
	return payment, nil
}

// GetPayment 获取支付记录，仅付款方与收款方可见
func (p *PaymentLogic) GetPayment(ctx context.Context, actorId, paymentId int64) (*model.PaymentRecordModel, error) {
	return p.loadForParty(p.db.WithContext(ctx), actorId, paymentId)
}

// ListProjectPayments 列出项目的全部支付记录
func (p *PaymentLogic) ListProjectPayments(ctx context.Context, actorId, projectId int64) ([]model.PaymentRecordModel, error) {
	db := p.db.WithContext(ctx)
	if _, err := p.projects.loadForParty(db, actorId, projectId); err != nil {
		return nil, err
	}
	var payments []model.PaymentRecordModel
	if err := db.Where("project_id = ?", projectId).Order("id ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// CancelOverdue 巡检取消逾期未付的记录，首付款取消时连带取消项目
func (p *PaymentLogic) CancelOverdue(ctx context.Context, paymentId int64, daysLate int) (SweepOutcome, error) {
	var ob outbox
	moved := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment model.PaymentRecordModel
		if err := tx.First(&payment, paymentId).Error; err != nil {
			return fmt.Errorf("load payment: %w", err)
		}
		if payment.Status != model.PaymentStatusPending {
			return nil
		}

		var err error
		moved, err = p.compareAndTransition(tx, &payment, model.PaymentStatusCancelled, map[string]interface{}{
			"cancelled_at": p.clock.Now(),
			"notes":        fmt.Sprintf("cancelled after %d day(s) overdue", daysLate),
		})
		if err != nil || !moved {
			return err
		}
		ob.add([]int64{payment.PayerId, payment.PayeeId}, model.NotificationPayment, paymentRef(&payment),
			"Payment cancelled",
			fmt.Sprintf("The %s payment of %d %s was cancelled after %d day(s) overdue.", payment.Phase, payment.Amount, payment.Currency, daysLate))

		if payment.Phase != model.PaymentPhaseInitial {
			return nil
		}
		var project model.ProjectModel
		if err := tx.First(&project, payment.ProjectId).Error; err != nil {
			return fmt.Errorf("load project: %w", err)
		}
		if project.Status.IsTerminal() {
			return nil
		}
		_, err = p.projects.forceCancelTx(tx, &project,
			fmt.Sprintf("initial payment %d unpaid %d day(s) past due", payment.Id, daysLate), &ob)
		return err
	})
	if err != nil {
		return SweepOutcome{}, err
	}
	return SweepOutcome{Moved: moved, Notified: ob.flush(ctx, p.notifier)}, nil
}

func (p *PaymentLogic) transition(tx *gorm.DB, payment *model.PaymentRecordModel, to model.PaymentStatus, fields map[string]interface{}) error {
	if !payment.Status.CanTransitionTo(to) {
		return apperr.InvalidTransition(entityPayment, payment.Status, to)
	}
	moved, err := p.compareAndTransition(tx, payment, to, fields)
	if err != nil {
		return err
	}
	if !moved {
		var current model.PaymentRecordModel
		if err := tx.Select("status").First(&current, payment.Id).Error; err != nil {
			return fmt.Errorf("reload payment: %w", err)
		}
		return apperr.InvalidTransition(entityPayment, current.Status, to)
	}
	return nil
}

func (p *PaymentLogic) compareAndTransition(tx *gorm.DB, payment *model.PaymentRecordModel, to model.PaymentStatus, fields map[string]interface{}) (bool, error) {
	if !payment.Status.CanTransitionTo(to) {
		return false, nil
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&model.PaymentRecordModel{}).
		Where("id = ? AND status = ?", payment.Id, payment.Status).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update payment status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	logger.Info("payment %d moved %s -> %s", payment.Id, payment.Status, to)
	metrics.IncrementPaymentTransition(string(payment.Phase), string(to))
	payment.Status = to
	return true, nil
}

func (p *PaymentLogic) loadForParty(tx *gorm.DB, actorId, paymentId int64) (*model.PaymentRecordModel, error) {
	var payment model.PaymentRecordModel
	if err := tx.First(&payment, paymentId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(entityPayment, paymentId)
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if payment.PayerId != actorId && payment.PayeeId != actorId {
		return nil, apperr.NotFound(entityPayment, paymentId)
	}
	return &payment, nil
}

func gatewayError(err error) error {
	if errors.Is(err, gateway.ErrRejected) {
		return apperr.Gateway(apperr.CodeGatewayRejected, err)
	}
	return apperr.Gateway(apperr.CodeGatewayUnavailable, err)
}

func paymentRef(p *model.PaymentRecordModel) model.EntityRef {
	return model.EntityRef{Type: model.EntityPayment, Id: p.Id}
}
