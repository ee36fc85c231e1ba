// internal/workflow/loader.go
package workflow

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tracks.yaml
var builtinTracks []byte

var (
	defaultCatalog    Catalog
	defaultCatalogErr error
	defaultOnce       sync.Once
)

// ParseCatalogYAML 解析 YAML 形式的 track 目录
func ParseCatalogYAML(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, fmt.Errorf("workflow: catalog payload is empty")
	}
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("workflow: decode catalog: %w", err)
	}
	return catalog.Normalized()
}

// LoadCatalogReader 从 io.Reader 读取目录
func LoadCatalogReader(r io.Reader) (Catalog, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Catalog{}, fmt.Errorf("workflow: read catalog: %w", err)
	}
	return ParseCatalogYAML(content)
}

// LoadCatalogFile 从文件读取目录
func LoadCatalogFile(path string) (Catalog, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	catalog, parseErr := ParseCatalogYAML(content)
	if parseErr != nil {
		return Catalog{}, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return catalog, nil
}

// DefaultCatalog 返回内置目录，只解析一次
func DefaultCatalog() (Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalogYAML(builtinTracks)
	})
	return defaultCatalog, defaultCatalogErr
}

// MustDefaultCatalog 内置目录无法解析属于编译期错误
func MustDefaultCatalog() Catalog {
	catalog, err := DefaultCatalog()
	if err != nil {
		panic(err)
	}
	return catalog
}
