package logic

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/blues/commission/internal/model"
	"github.com/blues/commission/internal/notify"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SweepOutcome 巡检驱动的单次流转结果，Notified 为实际发出的通知条数
type SweepOutcome struct {
	Moved    bool
	Notified int
}

// outbox 事务提交后再发送的通知
type outbox struct {
	items []model.Notification
}

func (o *outbox) add(userIds []int64, category model.NotificationCategory, ref model.EntityRef, title, message string) {
	for _, uid := range userIds {
		o.items = append(o.items, model.Notification{
			UserId:   uid,
			Title:    title,
			Message:  message,
			Category: category,
			Related:  ref,
		})
	}
}

func (o *outbox) flush(ctx context.Context, n notify.Notifier) int {
	for _, item := range o.items {
		n.Notify(ctx, item)
	}
	sent := len(o.items)
	o.items = nil
	return sent
}

// lockForUpdate 对读取的行加行锁，SQLite 不支持行锁时跳过
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// isDuplicateKey 判断唯一约束冲突
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

// normalizePage 规范分页参数
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// ComputeProgress 计算项目加权进度
// overall = Σ(progress_i × weight_i) / Σ(weight_i)，已完成的里程碑按 100 计
func ComputeProgress(projectId int64, milestones []model.ProjectMilestoneModel) model.ProgressSnapshot {
	snapshot := model.ProgressSnapshot{
		ProjectId:  projectId,
		Milestones: make([]model.MilestoneProgress, 0, len(milestones)),
	}

	weighted := 0
	for _, m := range milestones {
		progress := m.CompletionPercentage
		if m.Status == model.MilestoneStatusCompleted {
			progress = 100
		}
		if progress > 100 {
			progress = 100
		}

		weighted += progress * m.WeightPercentage
		snapshot.TotalWeight += m.WeightPercentage

		if m.Mandatory {
			snapshot.MandatoryTotal++
			if m.Status == model.MilestoneStatusCompleted {
				snapshot.MandatoryCompleted++
			}
		}

		snapshot.Milestones = append(snapshot.Milestones, model.MilestoneProgress{
			MilestoneId: m.Id,
			Number:      m.Number,
			Weight:      m.WeightPercentage,
			Progress:    progress,
			Status:      m.Status,
			Mandatory:   m.Mandatory,
		})
	}

	if snapshot.TotalWeight > 0 {
		overall := float64(weighted) / float64(snapshot.TotalWeight)
		snapshot.Overall = math.Round(overall*100) / 100
	}
	snapshot.AllMandatoryCompleted = snapshot.MandatoryCompleted == snapshot.MandatoryTotal
	return snapshot
}

// loadProgress 从里程碑表重新推导项目进度
func loadProgress(tx *gorm.DB, projectId int64) (model.ProgressSnapshot, error) {
	var milestones []model.ProjectMilestoneModel
	if err := tx.Where("project_id = ?", projectId).Order("number ASC").Find(&milestones).Error; err != nil {
		return model.ProgressSnapshot{}, err
	}
	return ComputeProgress(projectId, milestones), nil
}

// readyForSettlement 所有必需里程碑均已验收，且至少存在一个必需里程碑
func readyForSettlement(s model.ProgressSnapshot) bool {
	return s.MandatoryTotal > 0 && s.AllMandatoryCompleted
}
