// internal/wizard/progress_test.go
package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/workflow"
)

func TestBuildProgress_FreshSession(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewSession("book-1")

	view := s.Progress()
	assert.Equal(t, 18, view.TotalSteps)
	assert.Equal(t, 0, view.CompletedSteps)
	assert.Equal(t, 0, view.Percent)
	assert.Equal(t, "format_selected", view.CurrentStepID)
	require.Len(t, view.Phases, 5)
	assert.Equal(t, "Concept & Research", view.Phases[0].Name)
	assert.True(t, view.Phases[0].Items[0].Current)
	assert.False(t, view.Phases[0].Completed)
}

func TestBuildProgress_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	s := startSession(t, e)
	driveToDrafting(t, e, s, 3)

	first := s.Progress()
	second := s.Progress()
	assert.Equal(t, first, second)
}

func TestBuildProgress_DraftingItems(t *testing.T) {
	e := newTestEngine(t)
	s := startSession(t, e)
	action := driveToDrafting(t, e, s, 2)
	answer(t, e, s, action)
	action = advance(t, e, s, "Use this idea")
	answer(t, e, s, action)

	view := s.Progress()
	var drafting models.ProgressPhase
	for _, phase := range view.Phases {
		if phase.Name == "Drafting" {
			drafting = phase
		}
	}
	require.Len(t, drafting.Items, 5)

	assert.Equal(t, workflow.SlotID(1)+":draft", drafting.Items[0].ID)
	assert.Equal(t, "Draft: Title 1", drafting.Items[0].Title)
	assert.True(t, drafting.Items[0].Completed)
	assert.False(t, drafting.Items[0].Current)

	assert.Equal(t, workflow.SlotID(1)+":edit", drafting.Items[1].ID)
	assert.Equal(t, "Edit: Title 1", drafting.Items[1].Title)
	assert.False(t, drafting.Items[1].Completed)
	assert.True(t, drafting.Items[1].Current)

	assert.Equal(t, "Draft: Outline 2", drafting.Items[2].Title)
	assert.False(t, drafting.Items[2].Completed)
	assert.Equal(t, "manuscript_review", drafting.Items[4].ID)
	assert.False(t, drafting.Completed)
}
