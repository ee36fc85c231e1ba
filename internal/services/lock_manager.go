// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按项目分配的锁
type LockManager struct {
	projectLocks map[string]*LockInfo
	globalLock   sync.RWMutex
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.Mutex
	LastUsed time.Time
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		projectLocks: make(map[string]*LockInfo),
	}
}

// GetProjectLock 获取项目锁（线程安全）
func (lm *LockManager) GetProjectLock(projectID string) *sync.Mutex {
	lm.globalLock.RLock()
	info, exists := lm.projectLocks[projectID]
	lm.globalLock.RUnlock()
	if exists {
		return info.Mutex
	}

	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查
	if info, exists := lm.projectLocks[projectID]; exists {
		return info.Mutex
	}
	info = &LockInfo{Mutex: &sync.Mutex{}, LastUsed: time.Now()}
	lm.projectLocks[projectID] = info
	return info.Mutex
}

// WithProjectLock 在项目锁保护下执行操作
func (lm *LockManager) WithProjectLock(projectID string, fn func() error) error {
	lock := lm.GetProjectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	lm.touch(projectID)
	return fn()
}

func (lm *LockManager) touch(projectID string) {
	lm.globalLock.Lock()
	if info, exists := lm.projectLocks[projectID]; exists {
		info.LastUsed = time.Now()
	}
	lm.globalLock.Unlock()
}

// Release 会话过期后丢弃对应的锁。
// 先等持锁的调用结束再删除，调用方不能持有该项目锁。
func (lm *LockManager) Release(projectID string) {
	lm.globalLock.RLock()
	info, exists := lm.projectLocks[projectID]
	lm.globalLock.RUnlock()
	if !exists {
		return
	}

	info.Mutex.Lock()
	defer info.Mutex.Unlock()

	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	if current, ok := lm.projectLocks[projectID]; ok && current == info {
		delete(lm.projectLocks, projectID)
	}
}

// Count 当前持有的锁数量
func (lm *LockManager) Count() int {
	lm.globalLock.RLock()
	defer lm.globalLock.RUnlock()
	return len(lm.projectLocks)
}
