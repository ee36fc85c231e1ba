// internal/models/export.go
package models

import (
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "markdown"
	ExportText     ExportFormat = "txt"
	ExportHTML     ExportFormat = "html"
	ExportJSON     ExportFormat = "json"
	ExportDOCX     ExportFormat = "docx"
)

// ExportResult 导出结果
type ExportResult struct {
	ProjectID    string       `json:"project_id"`
	Title        string       `json:"title"`
	Format       ExportFormat `json:"format"`
	Content      string       `json:"content"`
	GeneratedAt  time.Time    `json:"generated_at"`
	ChapterCount int          `json:"chapter_count"`
	WordCount    int          `json:"word_count"`
	FilePath     string       `json:"file_path"` // 导出文件路径
	FileSize     int64        `json:"file_size"` // 文件大小
}
