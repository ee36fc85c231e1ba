// internal/services/session_service_test.go
package services

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BookForge/internal/wizard"
)

func TestSessionService_NewIDIsSortedAndLowercase(t *testing.T) {
	s := NewSessionService(time.Hour)

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = s.NewID()
	}
	assert.True(t, sort.StringsAreSorted(ids))
	for _, id := range ids {
		assert.Len(t, id, 26)
		assert.Equal(t, strings.ToLower(id), id)
	}
}

func TestSessionService_PutGetDelete(t *testing.T) {
	s := NewSessionService(time.Hour)

	var evicted []string
	var mu sync.Mutex
	s.OnEvicted(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, id)
	})

	s.Put(&wizard.Session{ID: "a"})
	s.Put(&wizard.Session{ID: "b"})
	assert.Equal(t, 2, s.Count())
	ids := s.IDs()
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)

	s.Delete("a")
	_, ok = s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Count())

	mu.Lock()
	assert.Equal(t, []string{"a"}, evicted)
	mu.Unlock()
}

func TestSessionService_ExpiredSessionsAreEvicted(t *testing.T) {
	s := NewSessionService(10 * time.Millisecond)

	evicted := make(chan string, 1)
	s.OnEvicted(func(id string) { evicted <- id })

	s.Put(&wizard.Session{ID: "stale"})
	time.Sleep(30 * time.Millisecond)

	_, ok := s.Get("stale")
	assert.False(t, ok)

	s.DeleteExpired()
	select {
	case id := <-evicted:
		assert.Equal(t, "stale", id)
	case <-time.After(time.Second):
		t.Fatal("eviction callback not called")
	}
}
