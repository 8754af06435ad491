package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockHeld 锁已被其他实例持有，本次执行跳过
var ErrLockHeld = errors.New("lock is held by another holder")

// Locker 巡检互斥锁，同名任务在所有实例中同时只执行一个
type Locker interface {
	WithExclusiveLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// LocalLocker 进程内互斥锁，单实例部署使用
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

// WithExclusiveLock 实现 Locker，锁被占用时立即返回 ErrLockHeld
func (l *LocalLocker) WithExclusiveLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return ErrLockHeld
	}
	defer m.Unlock()

	return fn(ctx)
}
