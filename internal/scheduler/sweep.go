package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// SweepResult 单次巡检结果
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Transitioned int `json:"transitioned"`
	Notified     int `json:"notified"`
	Errors       int `json:"errors"`
}

// Job 巡检任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Run(ctx context.Context) SweepResult
}

// daysLate 超过截止时间的整天数
func daysLate(now, due time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / (24 * time.Hour))
}

// startOfDay UTC 当天零点
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
