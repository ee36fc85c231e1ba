// internal/storage/file_storage_test.go
package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	return fs
}

func TestFileStorage_SaveAndLoad(t *testing.T) {
	fs := newMemStorage(t)

	path, err := fs.SaveTextFile("book-1", "draft.md", []byte("# Title"))
	require.NoError(t, err)
	assert.Equal(t, fs.Path("book-1", "draft.md"), path)
	assert.True(t, fs.FileExists("book-1", "draft.md"))
	assert.False(t, fs.FileExists("book-1", "draft.md.tmp"))

	data, err := fs.LoadTextFile("book-1", "draft.md")
	require.NoError(t, err)
	assert.Equal(t, "# Title", string(data))

	size, err := fs.FileSize("book-1", "draft.md")
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)

	_, err = fs.SaveTextFile("book-1", "draft.md", []byte("# Second"))
	require.NoError(t, err)
	data, err = fs.LoadTextFile("book-1", "draft.md")
	require.NoError(t, err)
	assert.Equal(t, "# Second", string(data))
}

func TestFileStorage_SaveJSONFile(t *testing.T) {
	fs := newMemStorage(t)

	_, err := fs.SaveJSONFile("book-1", "book.json", map[string]int{"chapters": 3})
	require.NoError(t, err)

	data, err := fs.LoadTextFile("book-1", "book.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"chapters":3}`, string(data))

	_, err = fs.SaveJSONFile("book-1", "bad.json", func() {})
	assert.Error(t, err)
}

func TestFileStorage_MissingFiles(t *testing.T) {
	fs := newMemStorage(t)

	_, err := fs.LoadTextFile("nope", "x.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "文件不存在")

	_, err = fs.FileSize("nope", "x.md")
	assert.Error(t, err)

	files, err := fs.ListFiles("nope")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileStorage_ListAndDelete(t *testing.T) {
	fs := newMemStorage(t)
	for _, name := range []string{"c.md", "a.md", "b.txt"} {
		_, err := fs.SaveTextFile("book-1", name, []byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, fs.FS.MkdirAll(fs.Path("book-1", "nested"), 0755))

	files, err := fs.ListFiles("book-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.txt", "c.md"}, files)

	require.NoError(t, fs.DeleteDir("book-1"))
	assert.False(t, fs.FileExists("book-1", "a.md"))
}

func TestFileStorage_ConcurrentWrites(t *testing.T) {
	fs := newMemStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fs.SaveTextFile("book-1", fmt.Sprintf("f%02d.md", i%5), []byte("x"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	files, err := fs.ListFiles("book-1")
	require.NoError(t, err)
	assert.Len(t, files, 5)
}

func TestNewFileStorage_DefaultsToOsFs(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(nil, dir)
	require.NoError(t, err)
	assert.IsType(t, &afero.OsFs{}, fs.FS)

	_, err = fs.SaveTextFile("p", "a.txt", []byte("ok"))
	require.NoError(t, err)
	assert.True(t, fs.FileExists("p", "a.txt"))
}
