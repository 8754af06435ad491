package model

import (
	"time"
)

// ReminderLogModel 截止提醒发送记录，同一实体同一提前量同一截止日只发一次
type ReminderLogModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	EntityType string `json:"entity_type" gorm:"type:varchar(16);not null;uniqueIndex:idx_reminder_once"`
	EntityId   int64  `json:"entity_id" gorm:"not null;uniqueIndex:idx_reminder_once"`
	LeadDays   int    `json:"lead_days" gorm:"not null;uniqueIndex:idx_reminder_once"`
	DueDay     string `json:"due_day" gorm:"type:varchar(10);not null;uniqueIndex:idx_reminder_once"` // 2006-01-02
}

// TableName 自定义表名
func (ReminderLogModel) TableName() string {
	return "reminder_log"
}

// EntityType 关联实体类型
type EntityType string

const (
	EntityProject   EntityType = "project"
	EntityMilestone EntityType = "milestone"
	EntityPayment   EntityType = "payment"
)
