package model

// NotificationCategory 通知分类
type NotificationCategory string

const (
	NotificationProject   NotificationCategory = "project"
	NotificationMilestone NotificationCategory = "milestone"
	NotificationPayment   NotificationCategory = "payment"
	NotificationReminder  NotificationCategory = "reminder"
)

// EntityRef 关联实体引用
type EntityRef struct {
	Type EntityType `json:"type"`
	Id   int64      `json:"id"`
}

// Notification 发送给用户的通知
type Notification struct {
	UserId   int64                `json:"user_id"`
	Title    string               `json:"title"`
	Message  string               `json:"message"`
	Category NotificationCategory `json:"category"`
	Related  EntityRef            `json:"related"`
}
