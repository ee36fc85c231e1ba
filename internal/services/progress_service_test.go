// internal/services/progress_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BookForge/internal/models"
)

func TestProgressService_SubscribeReceivesCurrentState(t *testing.T) {
	p := NewProgressService()
	p.Publish("book-1", models.ProgressView{TotalSteps: 18, CompletedSteps: 2, Percent: 11}, "working", "Drafting")

	ch := p.Subscribe("book-1")
	first := <-ch
	assert.Equal(t, "book-1", first.ProjectID)
	assert.Equal(t, "working", first.Status)
	assert.Equal(t, 11, first.Progress.Percent)

	p.Publish("book-1", models.ProgressView{TotalSteps: 18, CompletedSteps: 3, Percent: 16}, "idle", "")
	next := <-ch
	assert.Equal(t, "idle", next.Status)
	assert.Equal(t, 3, next.Progress.CompletedSteps)

	p.Unsubscribe("book-1", ch)
	_, open := <-ch
	assert.False(t, open)

	// 重复取消订阅不会 panic
	p.Unsubscribe("book-1", ch)
}

func TestProgressService_FullSubscriberDoesNotBlock(t *testing.T) {
	p := NewProgressService()
	ch := p.Subscribe("book-1")

	for i := 0; i < 50; i++ {
		p.Publish("book-1", models.ProgressView{CompletedSteps: i}, "working", "")
	}
	latest, ok := p.Latest("book-1")
	require.True(t, ok)
	assert.Equal(t, 49, latest.Progress.CompletedSteps)
	assert.Len(t, ch, cap(ch))
	p.Unsubscribe("book-1", ch)
}

func TestProgressService_RemoveClosesSubscribers(t *testing.T) {
	p := NewProgressService()
	a := p.Subscribe("book-1")
	b := p.Subscribe("book-1")
	<-a
	<-b

	p.Remove("book-1")
	_, openA := <-a
	_, openB := <-b
	assert.False(t, openA)
	assert.False(t, openB)

	_, ok := p.Latest("book-1")
	assert.False(t, ok)
	p.Remove("book-1")
}
