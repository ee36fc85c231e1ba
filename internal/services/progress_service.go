// internal/services/progress_service.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/BookForge/internal/models"
)

// ProgressUpdate 推送给订阅者的进度快照
type ProgressUpdate struct {
	ProjectID string              `json:"projectId"`
	Progress  models.ProgressView `json:"progress"`
	Message   string              `json:"message,omitempty"`
	Status    string              `json:"status"` // idle, working, completed
}

// ProgressTracker 跟踪一个项目的进度
type ProgressTracker struct {
	ProjectID   string
	Current     ProgressUpdate
	UpdateTime  time.Time
	Subscribers map[chan ProgressUpdate]bool
	mutex       sync.Mutex
}

// ProgressService 管理所有项目的进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// tracker 获取或创建跟踪器
func (s *ProgressService) tracker(projectID string) *ProgressTracker {
	s.mutex.RLock()
	t, exists := s.trackers[projectID]
	s.mutex.RUnlock()
	if exists {
		return t
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if t, exists := s.trackers[projectID]; exists {
		return t
	}
	t = &ProgressTracker{
		ProjectID:   projectID,
		Current:     ProgressUpdate{ProjectID: projectID, Status: "idle"},
		UpdateTime:  time.Now(),
		Subscribers: make(map[chan ProgressUpdate]bool),
	}
	s.trackers[projectID] = t
	return t
}

// Publish 记录最新进度并通知订阅者
func (s *ProgressService) Publish(projectID string, view models.ProgressView, status, message string) {
	s.tracker(projectID).publish(ProgressUpdate{
		ProjectID: projectID,
		Progress:  view,
		Message:   message,
		Status:    status,
	})
}

// Latest 最近一次发布的进度
func (s *ProgressService) Latest(projectID string) (ProgressUpdate, bool) {
	s.mutex.RLock()
	t, exists := s.trackers[projectID]
	s.mutex.RUnlock()
	if !exists {
		return ProgressUpdate{}, false
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.Current, true
}

// Subscribe 订阅进度更新
func (s *ProgressService) Subscribe(projectID string) chan ProgressUpdate {
	return s.tracker(projectID).subscribe()
}

// Unsubscribe 取消订阅
func (s *ProgressService) Unsubscribe(projectID string, ch chan ProgressUpdate) {
	s.mutex.RLock()
	t, exists := s.trackers[projectID]
	s.mutex.RUnlock()
	if exists {
		t.unsubscribe(ch)
	}
}

// Remove 项目过期时关闭所有订阅
func (s *ProgressService) Remove(projectID string) {
	s.mutex.Lock()
	t, exists := s.trackers[projectID]
	delete(s.trackers, projectID)
	s.mutex.Unlock()
	if !exists {
		return
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	for ch := range t.Subscribers {
		delete(t.Subscribers, ch)
		close(ch)
	}
}

func (t *ProgressTracker) publish(update ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.Current = update
	t.UpdateTime = time.Now()

	for subscriber := range t.Subscribers {
		// 非阻塞发送，如果通道已满则跳过
		select {
		case subscriber <- update:
		default:
		}
	}
}

func (t *ProgressTracker) subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	// 缓冲区设为10以避免阻塞
	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true

	// 立即发送当前状态
	subscriber <- t.Current
	return subscriber
}

func (t *ProgressTracker) unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; !ok {
		return
	}
	delete(t.Subscribers, subscriber)
	close(subscriber)
}
