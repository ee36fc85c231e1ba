// internal/services/wizard_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/wizard"
)

func TestWizardService_AutoPilotWritesWholeBook(t *testing.T) {
	w := newTestWizard(t, wizardOptions{delay: time.Millisecond})

	created, err := w.CreateProject(true)
	require.NoError(t, err)
	assert.True(t, created.AutoPilot)
	assert.True(t, created.IsLoading)

	var final *wizard.Session
	require.Eventually(t, func() bool {
		s, err := w.GetProject(created.ID)
		if err != nil {
			return false
		}
		final = s
		return s.Completed
	}, 15*time.Second, 10*time.Millisecond)

	p := final.Project
	assert.Equal(t, "Novel", p.Format)
	assert.Equal(t, 3, p.ChapterCount)
	require.Len(t, p.Chapters, 3)
	for _, ch := range p.Chapters {
		assert.Equal(t, models.ChapterReviewed, ch.Status, "chapter %d", ch.Number)
		assert.NotEmpty(t, ch.Content)
	}
	assert.NotEmpty(t, p.Title)
	assert.NotEmpty(t, p.Blurb)
	assert.Contains(t, p.CoverImageURL, "data:image/svg+xml")
	assert.Equal(t, 100, final.Progress().Percent)

	latest, ok := w.Progress().Latest(created.ID)
	require.True(t, ok)
	assert.Equal(t, "completed", latest.Status)
}

func TestWizardService_SubmitWhileBusyConflicts(t *testing.T) {
	gate := make(chan struct{})
	w := newTestWizard(t, wizardOptions{
		orchestrator: &gatedOrchestrator{inner: NewScriptedOrchestrator(), gate: gate},
	})
	released := false
	release := func() {
		if !released {
			released = true
			close(gate)
		}
	}
	t.Cleanup(release)

	created, err := w.CreateProject(false)
	require.NoError(t, err)

	_, err = w.Submit(created.ID, wizard.UserInput{Text: "Novel"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflictError(err))

	latest, ok := w.Progress().Latest(created.ID)
	require.True(t, ok)
	assert.Equal(t, "working", latest.Status)

	release()
	s := waitIdle(t, w, created.ID)
	msg := lastAssistant(t, s)
	require.NotEmpty(t, msg.Options)
	assert.Equal(t, "Novel", msg.Options[0].Title)

	_, err = w.Submit(created.ID, wizard.UserInput{Text: "Novel"})
	require.NoError(t, err)
	s = waitIdle(t, w, created.ID)
	assert.Equal(t, "Novel", s.Project.Format)
	assert.Equal(t, 1, s.Cursor)
}

func TestWizardService_UnknownProject(t *testing.T) {
	w := newTestWizard(t, wizardOptions{})

	_, err := w.GetProject("missing")
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = w.Submit("missing", wizard.UserInput{Text: "hi"})
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = w.SetAutoPilot("missing", true)
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = w.GetProgress("missing")
	assert.True(t, apperrors.IsNotFoundError(err))

	assert.True(t, apperrors.IsNotFoundError(w.DeleteProject("missing")))
}

func TestWizardService_BoundaryFailureIsRecoverable(t *testing.T) {
	w := newTestWizard(t, wizardOptions{
		orchestrator: &flakyOrchestrator{inner: NewScriptedOrchestrator(), failures: 1},
		sync:         true,
	})

	created, err := w.CreateProject(false)
	require.NoError(t, err)

	s, err := w.GetProject(created.ID)
	require.NoError(t, err)
	assert.False(t, s.IsLoading)
	require.NotNil(t, s.PendingRetry)
	msg := lastAssistant(t, s)
	assert.Equal(t, models.KindError, msg.Kind)

	s, err = w.Submit(created.ID, wizard.UserInput{Text: wizard.AffirmativeReply})
	require.NoError(t, err)
	assert.True(t, s.IsLoading)

	s, err = w.GetProject(created.ID)
	require.NoError(t, err)
	assert.Nil(t, s.PendingRetry)
	msg = lastAssistant(t, s)
	assert.Equal(t, models.KindOptions, msg.Kind)
	assert.Equal(t, "format_selected", s.CurrentStep().ID)
}

func TestWizardService_BroadcastsSessionUpdates(t *testing.T) {
	w := newTestWizard(t, wizardOptions{sync: true})
	b := &recordingBroadcaster{}
	w.SetBroadcaster(b)

	created, err := w.CreateProject(false)
	require.NoError(t, err)
	require.GreaterOrEqual(t, b.Count(), 2)

	b.mu.Lock()
	first, last := b.messages[0], b.messages[len(b.messages)-1]
	b.mu.Unlock()

	assert.Equal(t, "session_update", first["type"])
	assert.Equal(t, "working", first["status"])
	assert.Equal(t, "idle", last["status"])
	session, ok := last["session"].(*wizard.Session)
	require.True(t, ok)
	assert.Equal(t, created.ID, session.ID)
}

func TestWizardService_DeleteProjectCleansUp(t *testing.T) {
	w := newTestWizard(t, wizardOptions{sync: true})

	created, err := w.CreateProject(false)
	require.NoError(t, err)
	assert.Equal(t, 1, w.sessions.Count())
	assert.Equal(t, 1, w.locks.Count())
	_, ok := w.Progress().Latest(created.ID)
	require.True(t, ok)

	require.NoError(t, w.DeleteProject(created.ID))
	assert.Equal(t, 0, w.sessions.Count())
	assert.Equal(t, 0, w.locks.Count())
	_, ok = w.Progress().Latest(created.ID)
	assert.False(t, ok)

	_, err = w.GetProject(created.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestWizardService_EnableAutoPilotLater(t *testing.T) {
	w := newTestWizard(t, wizardOptions{delay: time.Millisecond})

	created, err := w.CreateProject(false)
	require.NoError(t, err)
	s := waitIdle(t, w, created.ID)
	assert.False(t, s.AutoPilot)

	// 没有自动驾驶时停在第一步
	time.Sleep(20 * time.Millisecond)
	s, err = w.GetProject(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Cursor)

	s, err = w.SetAutoPilot(created.ID, true)
	require.NoError(t, err)
	assert.True(t, s.AutoPilot)

	require.Eventually(t, func() bool {
		s, err := w.GetProject(created.ID)
		return err == nil && s.Cursor > 0
	}, 5*time.Second, 5*time.Millisecond)

	_, err = w.SetAutoPilot(created.ID, false)
	require.NoError(t, err)
}

func TestWizardService_CloseStopsBackgroundWork(t *testing.T) {
	w := newTestWizard(t, wizardOptions{delay: time.Millisecond})

	created, err := w.CreateProject(true)
	require.NoError(t, err)
	w.Close()

	s, err := w.GetProject(created.ID)
	require.NoError(t, err)
	cursor := s.Cursor
	time.Sleep(20 * time.Millisecond)

	s, err = w.GetProject(created.ID)
	require.NoError(t, err)
	assert.Equal(t, cursor, s.Cursor)
	assert.False(t, s.Completed)
}
