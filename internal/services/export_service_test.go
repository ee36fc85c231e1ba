// internal/services/export_service_test.go
package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/storage"
	"github.com/Corphon/BookForge/internal/wizard"
	"github.com/Corphon/BookForge/internal/workflow"
)

type projectMap map[string]*wizard.Session

func (m projectMap) GetProject(id string) (*wizard.Session, error) {
	s, ok := m[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("project "+id+" not found", nil)
	}
	return s, nil
}

func sampleBook() *models.ProjectState {
	p := models.NewProjectState()
	p.Title = "the quiet harbor"
	p.Genre = "Literary Fiction"
	p.Blurb = "A keeper and a storm."
	p.CoverImageURL = "https://img.test/cover.png"
	p.KDPKeywords = []string{"lighthouse", "storm"}
	p.BookCategories = []string{"Fiction / Literary"}
	p.Chapters = []models.Chapter{
		{Number: 1, Title: "first light", Content: "The lamp woke before she did.\n\nFish & chips for supper.", Status: models.ChapterReviewed},
		{Number: 2, Content: "The storm came in sideways.", Status: models.ChapterReviewed},
	}
	return p
}

func newExportFixture(t *testing.T, unit string) (*ExportService, *storage.FileStorage) {
	t.Helper()
	store, err := storage.NewFileStorage(afero.NewMemMapFs(), "/exports")
	require.NoError(t, err)

	projects := projectMap{
		"book-1": {ID: "book-1", Track: workflow.Track{Unit: unit}, Project: sampleBook()},
		"empty":  {ID: "empty", Project: models.NewProjectState()},
	}
	service := NewExportService(projects, store)
	service.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return service, store
}

func TestParseExportFormat(t *testing.T) {
	cases := map[string]models.ExportFormat{
		"":         models.ExportMarkdown,
		"md":       models.ExportMarkdown,
		"Markdown": models.ExportMarkdown,
		"text":     models.ExportText,
		" txt ":    models.ExportText,
		"html":     models.ExportHTML,
		"JSON":     models.ExportJSON,
	}
	for input, want := range cases {
		got, err := ParseExportFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseExportFormat("docx")
	assert.True(t, apperrors.IsValidationError(err))
	_, err = ParseExportFormat("pdf")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestExportProject_MarkdownSavedToStore(t *testing.T) {
	service, store := newExportFixture(t, "Chapter")

	result, err := service.ExportProject(context.Background(), "book-1", "markdown")
	require.NoError(t, err)

	assert.Equal(t, models.ExportMarkdown, result.Format)
	assert.Equal(t, 2, result.ChapterCount)
	assert.Equal(t, 16, result.WordCount)
	assert.True(t, strings.HasPrefix(result.Content, "# The Quiet Harbor\n"))
	assert.Contains(t, result.Content, "*Literary Fiction*")
	assert.Contains(t, result.Content, "![Cover](https://img.test/cover.png)")
	assert.Contains(t, result.Content, "> A keeper and a storm.")
	assert.Contains(t, result.Content, "## Contents\n\n1. First Light\n2. Chapter 2\n")
	assert.Contains(t, result.Content, "## Chapter 1: First Light")
	assert.Contains(t, result.Content, "**Keywords:** lighthouse, storm")

	fileName := "the_quiet_harbor_20260314_092653.md"
	assert.Equal(t, store.Path("book-1", fileName), result.FilePath)
	assert.Equal(t, int64(len(result.Content)), result.FileSize)
	saved, err := store.LoadTextFile("book-1", fileName)
	require.NoError(t, err)
	assert.Equal(t, result.Content, string(saved))
}

func TestExportProject_TextUsesTrackUnit(t *testing.T) {
	service, _ := newExportFixture(t, "Module")

	result, err := service.ExportProject(context.Background(), "book-1", "txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Content, "THE QUIET HARBOR\n================\n"))
	assert.Contains(t, result.Content, "Module 1: First Light\n---------------------")
	assert.Contains(t, result.Content, "Module 2: Chapter 2")
	assert.True(t, strings.HasSuffix(result.FilePath, ".txt"))
}

func TestExportProject_HTMLEscapesContent(t *testing.T) {
	service, _ := newExportFixture(t, "Chapter")

	result, err := service.ExportProject(context.Background(), "book-1", "html")
	require.NoError(t, err)
	assert.Contains(t, result.Content, "<h1>The Quiet Harbor</h1>")
	assert.Contains(t, result.Content, `src="https://img.test/cover.png"`)
	assert.Contains(t, result.Content, "<p>Fish &amp; chips for supper.</p>")
	assert.Equal(t, 2, strings.Count(result.Content, "<section>"))
}

func TestExportProject_JSON(t *testing.T) {
	service, _ := newExportFixture(t, "Chapter")

	result, err := service.ExportProject(context.Background(), "book-1", "json")
	require.NoError(t, err)

	var doc struct {
		Unit    string              `json:"unit"`
		Project models.ProjectState `json:"project"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &doc))
	assert.Equal(t, "Chapter", doc.Unit)
	assert.Equal(t, "the quiet harbor", doc.Project.Title)
	assert.Len(t, doc.Project.Chapters, 2)
}

func TestExportProject_Failures(t *testing.T) {
	service, store := newExportFixture(t, "Chapter")
	ctx := context.Background()

	_, err := service.ExportProject(ctx, "book-1", "docx")
	assert.True(t, apperrors.IsValidationError(err))

	_, err = service.ExportProject(ctx, "missing", "markdown")
	assert.True(t, apperrors.IsNotFoundError(err))

	_, err = service.ExportProject(ctx, "empty", "markdown")
	assert.True(t, apperrors.IsPreconditionError(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = service.ExportProject(cancelled, "book-1", "markdown")
	assert.ErrorIs(t, err, context.Canceled)

	files, err := store.ListFiles("book-1")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRenderBook_RequiresChapters(t *testing.T) {
	p := models.NewProjectState()
	p.Title = "Untitled Draft"
	_, err := RenderBook(p, "Chapter", models.ExportMarkdown)
	assert.True(t, apperrors.IsPreconditionError(err))

	_, err = RenderBook(nil, "Chapter", models.ExportMarkdown)
	assert.True(t, apperrors.IsPreconditionError(err))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "the_quiet_harbor", slugify("The Quiet Harbor!"))
	assert.Equal(t, "book", slugify("???"))
	assert.Equal(t, "a_b_c", slugify("  a--b  c "))
}
