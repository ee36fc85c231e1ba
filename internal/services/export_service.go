// internal/services/export_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/models"
	"github.com/Corphon/BookForge/internal/storage"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/wizard"
)

// textWidth 纯文本导出的换行宽度
const textWidth = 80

// ProjectSource 按 id 提供会话快照
type ProjectSource interface {
	GetProject(id string) (*wizard.Session, error)
}

// ExportService 把完成的项目导出成文档
type ExportService struct {
	projects ProjectSource
	store    *storage.FileStorage
	logger   *utils.Logger
	now      func() time.Time
}

// NewExportService 创建导出服务；store 为 nil 时只返回内容不落盘
func NewExportService(projects ProjectSource, store *storage.FileStorage) *ExportService {
	return &ExportService{
		projects: projects,
		store:    store,
		logger:   utils.GetLogger().Named("export"),
		now:      time.Now,
	}
}

// ParseExportFormat 解析格式名称
func ParseExportFormat(format string) (models.ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return models.ExportMarkdown, nil
	case "txt", "text":
		return models.ExportText, nil
	case "html":
		return models.ExportHTML, nil
	case "json":
		return models.ExportJSON, nil
	case "docx":
		return models.ExportDOCX, apperrors.NewValidationError("DOCX export is not supported yet; use markdown, txt, html or json", nil)
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unsupported export format: %s (supported: markdown, txt, html, json)", format), nil)
	}
}

// ExportProject 导出项目书稿
func (s *ExportService) ExportProject(ctx context.Context, projectID, format string) (*models.ExportResult, error) {
	// 1. 验证格式
	exportFormat, err := ParseExportFormat(format)
	if err != nil {
		return nil, err
	}

	// 2. 获取项目
	session, err := s.projects.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. 生成内容（含前置条件检查）
	content, err := RenderBook(session.Project, session.Track.Unit, exportFormat)
	if err != nil {
		return nil, err
	}

	// 4. 创建导出结果
	result := &models.ExportResult{
		ProjectID:    projectID,
		Title:        session.Project.Title,
		Format:       exportFormat,
		Content:      content,
		GeneratedAt:  s.now(),
		ChapterCount: len(session.Project.Chapters),
		WordCount:    countWords(session.Project),
	}

	// 5. 保存到导出目录
	if s.store != nil {
		fileName := fmt.Sprintf("%s_%s.%s", slugify(result.Title), result.GeneratedAt.Format("20060102_150405"), fileExtension(exportFormat))
		path, err := s.store.SaveTextFile(projectID, fileName, []byte(content))
		if err != nil {
			return nil, apperrors.NewProcessingError("failed to save export", err)
		}
		size, _ := s.store.FileSize(projectID, fileName)
		result.FilePath = path
		result.FileSize = size
	}

	s.logger.Info("📦 book exported", map[string]interface{}{
		"project": projectID, "format": exportFormat, "chapters": result.ChapterCount, "words": result.WordCount,
	})
	return result, nil
}

// RenderBook 按格式生成书稿；标题和章节缺一不可
func RenderBook(p *models.ProjectState, unit string, format models.ExportFormat) (string, error) {
	if p == nil || strings.TrimSpace(p.Title) == "" {
		return "", apperrors.NewPreconditionError("the book needs a title before it can be exported", nil)
	}
	if len(p.Chapters) == 0 {
		return "", apperrors.NewPreconditionError("the book needs at least one chapter before it can be exported", nil)
	}
	if unit == "" {
		unit = "Chapter"
	}

	switch format {
	case models.ExportMarkdown:
		return renderMarkdown(p, unit), nil
	case models.ExportText:
		return renderText(p, unit), nil
	case models.ExportHTML:
		return renderHTML(p, unit)
	case models.ExportJSON:
		return renderJSON(p, unit)
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unsupported export format: %s", format), nil)
	}
}

var titleCaser = cases.Title(language.English)

func chapterHeading(unit string, ch models.Chapter) string {
	return fmt.Sprintf("%s %d: %s", unit, ch.Number, titleCaser.String(ch.DisplayTitle()))
}

func renderMarkdown(p *models.ProjectState, unit string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", titleCaser.String(p.Title))
	if p.Genre != "" {
		fmt.Fprintf(&b, "*%s*\n\n", p.Genre)
	}
	if p.CoverImageURL != "" {
		fmt.Fprintf(&b, "![Cover](%s)\n\n", p.CoverImageURL)
	}
	if p.Blurb != "" {
		for _, line := range strings.Split(strings.TrimSpace(p.Blurb), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Contents\n\n")
	for _, ch := range p.Chapters {
		fmt.Fprintf(&b, "%d. %s\n", ch.Number, titleCaser.String(ch.DisplayTitle()))
	}
	b.WriteString("\n")

	for _, ch := range p.Chapters {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", chapterHeading(unit, ch), strings.TrimSpace(ch.Content))
	}

	if len(p.KDPKeywords) > 0 || len(p.BookCategories) > 0 {
		b.WriteString("---\n\n")
		if len(p.KDPKeywords) > 0 {
			fmt.Fprintf(&b, "**Keywords:** %s\n\n", strings.Join(p.KDPKeywords, ", "))
		}
		if len(p.BookCategories) > 0 {
			fmt.Fprintf(&b, "**Categories:** %s\n", strings.Join(p.BookCategories, "; "))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderText(p *models.ProjectState, unit string) string {
	upper := cases.Upper(language.English)
	var b strings.Builder

	title := upper.String(p.Title)
	fmt.Fprintf(&b, "%s\n%s\n\n", title, strings.Repeat("=", len([]rune(title))))
	if p.Blurb != "" {
		fmt.Fprintf(&b, "%s\n\n", wordwrap.String(strings.TrimSpace(p.Blurb), textWidth))
	}

	for _, ch := range p.Chapters {
		heading := chapterHeading(unit, ch)
		fmt.Fprintf(&b, "%s\n%s\n\n", heading, strings.Repeat("-", len([]rune(heading))))
		for _, para := range strings.Split(strings.TrimSpace(ch.Content), "\n\n") {
			if strings.TrimSpace(para) == "" {
				continue
			}
			fmt.Fprintf(&b, "%s\n\n", wordwrap.String(strings.TrimSpace(para), textWidth))
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

var htmlTemplate = template.Must(template.New("book").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Georgia, serif; max-width: 42em; margin: 2em auto; line-height: 1.6; }
h1 { text-align: center; }
.blurb { font-style: italic; border-left: 3px solid #ccc; padding-left: 1em; }
.cover { display: block; max-width: 60%; margin: 0 auto 2em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Cover}}<img class="cover" src="{{.Cover}}" alt="Cover">{{end}}
{{if .Blurb}}<p class="blurb">{{.Blurb}}</p>{{end}}
{{range .Chapters}}<section>
<h2>{{.Heading}}</h2>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}</section>
{{end}}</body>
</html>
`))

type htmlChapter struct {
	Heading    string
	Paragraphs []string
}

func renderHTML(p *models.ProjectState, unit string) (string, error) {
	data := struct {
		Title    string
		Cover    template.URL
		Blurb    string
		Chapters []htmlChapter
	}{
		Title: titleCaser.String(p.Title),
		Blurb: p.Blurb,
	}
	if p.CoverImageURL != "" {
		data.Cover = template.URL(p.CoverImageURL)
	}
	for _, ch := range p.Chapters {
		hc := htmlChapter{Heading: chapterHeading(unit, ch)}
		for _, para := range strings.Split(strings.TrimSpace(ch.Content), "\n\n") {
			if strings.TrimSpace(para) != "" {
				hc.Paragraphs = append(hc.Paragraphs, strings.TrimSpace(para))
			}
		}
		data.Chapters = append(data.Chapters, hc)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", apperrors.NewProcessingError("failed to render HTML", err)
	}
	return buf.String(), nil
}

func renderJSON(p *models.ProjectState, unit string) (string, error) {
	doc := struct {
		Unit    string               `json:"unit"`
		Project *models.ProjectState `json:"project"`
	}{Unit: unit, Project: p}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", apperrors.NewProcessingError("failed to encode JSON", err)
	}
	return string(data), nil
}

func countWords(p *models.ProjectState) int {
	total := 0
	for _, ch := range p.Chapters {
		total += len(strings.Fields(ch.Content))
	}
	return total
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(title), "_"), "_")
	if slug == "" {
		return "book"
	}
	return slug
}

func fileExtension(format models.ExportFormat) string {
	if format == models.ExportMarkdown {
		return "md"
	}
	return string(format)
}
