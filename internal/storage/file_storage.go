// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// FileStorage 基于 afero 的文件存储，测试时可换成内存文件系统
type FileStorage struct {
	FS      afero.Fs
	BaseDir string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map
}

// NewFileStorage 创建文件存储服务；fs 为 nil 时使用操作系统文件系统
func NewFileStorage(fs afero.Fs, baseDir string) (*FileStorage, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{FS: fs, BaseDir: baseDir}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Path 相对路径对应的完整路径
func (fs *FileStorage) Path(dirPath, filename string) string {
	return filepath.Join(fs.BaseDir, dirPath, filename)
}

// SaveTextFile 原子写入：先写临时文件再重命名
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) (string, error) {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := fs.FS.MkdirAll(fullDirPath, 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := afero.WriteFile(fs.FS, tempPath, content, 0644); err != nil {
		return "", fmt.Errorf("保存临时文件失败: %w", err)
	}
	if err := fs.FS.Rename(tempPath, fullPath); err != nil {
		_ = fs.FS.Remove(tempPath)
		return "", fmt.Errorf("保存文件失败: %w", err)
	}
	return fullPath, nil
}

// SaveJSONFile 保存JSON文件
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) (string, error) {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}
	return fs.SaveTextFile(dirPath, filename, content)
}

// LoadTextFile 读取文本文件
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath := fs.Path(dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	data, err := afero.ReadFile(fs.FS, fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("文件不存在: %s", filepath.Join(dirPath, filename))
		}
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return data, nil
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	ok, err := afero.Exists(fs.FS, fs.Path(dirPath, filename))
	return err == nil && ok
}

// FileSize 文件大小
func (fs *FileStorage) FileSize(dirPath, filename string) (int64, error) {
	info, err := fs.FS.Stat(fs.Path(dirPath, filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DeleteDir 删除目录及其内容
func (fs *FileStorage) DeleteDir(dirPath string) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	if err := fs.FS.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("删除目录失败: %w", err)
	}
	return nil
}

// ListFiles 列出目录下的文件（已排序）
func (fs *FileStorage) ListFiles(dirPath string) ([]string, error) {
	fullPath := filepath.Join(fs.BaseDir, dirPath)
	entries, err := afero.ReadDir(fs.FS, fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
