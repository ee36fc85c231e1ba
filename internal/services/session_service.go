// internal/services/session_service.go
package services

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
)

// SessionService 内存中的会话存储，空闲超过 TTL 的项目会被淘汰
type SessionService struct {
	cache  *gocache.Cache
	ttl    time.Duration
	logger *utils.Logger

	idMutex sync.Mutex
	entropy io.Reader

	evictMutex sync.RWMutex
	onEvict    []func(projectID string)
}

// NewSessionService 创建会话存储
func NewSessionService(ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	cleanup := ttl / 4
	if cleanup < time.Minute {
		cleanup = time.Minute
	}

	s := &SessionService{
		cache:   gocache.New(ttl, cleanup),
		ttl:     ttl,
		logger:  utils.GetLogger().Named("sessions"),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	s.cache.OnEvicted(func(key string, _ interface{}) {
		s.logger.Info("🧹 project expired", map[string]interface{}{"project": key})
		s.evictMutex.RLock()
		callbacks := append([]func(string){}, s.onEvict...)
		s.evictMutex.RUnlock()
		for _, fn := range callbacks {
			fn(key)
		}
	})
	return s
}

// NewID 生成按时间排序的项目 id
func (s *SessionService) NewID() string {
	s.idMutex.Lock()
	defer s.idMutex.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String())
}

// OnEvicted 注册淘汰回调（删除和过期都会触发）
func (s *SessionService) OnEvicted(fn func(projectID string)) {
	s.evictMutex.Lock()
	defer s.evictMutex.Unlock()
	s.onEvict = append(s.onEvict, fn)
}

// Put 保存会话并刷新过期时间
func (s *SessionService) Put(session *wizard.Session) {
	s.cache.Set(session.ID, session, gocache.DefaultExpiration)
}

// Get 查找会话
func (s *SessionService) Get(projectID string) (*wizard.Session, bool) {
	v, found := s.cache.Get(projectID)
	if !found {
		return nil, false
	}
	return v.(*wizard.Session), true
}

// Delete 删除会话
func (s *SessionService) Delete(projectID string) {
	s.cache.Delete(projectID)
}

// Count 当前会话数量
func (s *SessionService) Count() int {
	return s.cache.ItemCount()
}

// IDs 当前所有项目 id
func (s *SessionService) IDs() []string {
	items := s.cache.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids
}

// DeleteExpired 立即清理已过期的会话
func (s *SessionService) DeleteExpired() {
	s.cache.DeleteExpired()
}
