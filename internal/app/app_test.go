// internal/app/app_test.go
package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/BookForge/internal/config"
	"github.com/Corphon/BookForge/internal/di"
	apperrors "github.com/Corphon/BookForge/internal/errors"
	"github.com/Corphon/BookForge/internal/utils"
	"github.com/Corphon/BookForge/internal/workflow"
)

func TestMain(m *testing.M) {
	os.Setenv("LLM_PROVIDER", "offline")
	utils.GetLogger().SetLogLevel(utils.ERROR)
	os.Exit(m.Run())
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		DataDir:        "/data",
		AutoPilotDelay: time.Hour,
		SessionTTL:     time.Hour,
		CallTimeout:    time.Second,
		LLMProvider:    "offline",
	}
}

func syncOptions(fs afero.Fs) Options {
	return Options{FS: fs, Dispatcher: func(fn func()) { fn() }}
}

func TestBuild_WiresServices(t *testing.T) {
	fs := afero.NewMemMapFs()
	svc, err := Build(testConfig(), syncOptions(fs))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	assert.False(t, svc.LLM.IsReady())
	exists, err := afero.DirExists(fs, filepath.Join("/data", "exports"))
	require.NoError(t, err)
	assert.True(t, exists)

	session, err := svc.Wizard.CreateProject(false)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Sessions.Count())

	loaded, err := svc.Wizard.GetProject(session.ID)
	require.NoError(t, err)
	assert.False(t, loaded.IsLoading)

	_, err = svc.Export.ExportProject(context.Background(), session.ID, "markdown")
	assert.True(t, apperrors.IsPreconditionError(err))
}

func TestBuild_CatalogSources(t *testing.T) {
	catalog, err := workflow.DefaultCatalog()
	require.NoError(t, err)

	svc, err := Build(testConfig(), Options{FS: afero.NewMemMapFs(), Catalog: &catalog})
	require.NoError(t, err)
	svc.Close()

	cfg := testConfig()
	cfg.WorkflowFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Build(cfg, Options{FS: afero.NewMemMapFs()})
	assert.Error(t, err)
}

func TestServices_Register(t *testing.T) {
	svc, err := Build(testConfig(), Options{FS: afero.NewMemMapFs()})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	container := di.NewContainer()
	svc.Register(container)
	assert.NoError(t, container.Require("metrics", "llm", "config", "sessions", "progress", "wizard", "export", "app"))
	assert.Same(t, svc.Wizard, container.Get("wizard"))
	assert.Equal(t, "metrics", container.RegistrationOrder()[0])
}
