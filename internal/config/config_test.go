package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Host:         "0.0.0.0",
		Port:         8080,
		SharedSecret: "test-secret",
		Providers: []Provider{
			{
				Name:    "openrouter",
				APIBase: "https://openrouter.ai/api/v1/chat/completions",
				APIKey:  "test-provider-key",
				Models:  []string{"anthropic/claude-3.5-sonnet"},
			},
		},
		Router: RouterConfig{
			Default: "openrouter,anthropic/claude-3.5-sonnet",
		},
	}

	err := manager.Save(cfg)
	require.NoError(t, err, "should be able to save config")
	assert.True(t, manager.Exists(), "config file should exist after saving")

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	// A shared secret was set, so the host should NOT be forced to loopback.
	assert.Equal(t, cfg.Host, loadedCfg.Host, "host should match")
	assert.Equal(t, cfg.Port, loadedCfg.Port, "port should match")
	assert.Equal(t, cfg.SharedSecret, loadedCfg.SharedSecret, "shared secret should match")

	require.Len(t, loadedCfg.Providers, 1, "should have 1 provider")

	provider := loadedCfg.Providers[0]
	assert.Equal(t, "openrouter", provider.Name, "provider name should match")
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", provider.APIBase, "API base should match")
	assert.Equal(t, "openrouter,anthropic/claude-3.5-sonnet", loadedCfg.Router.Default, "default router should match")
}

func TestConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Providers: []Provider{
			{
				Name:    "test",
				APIBase: "http://example.com",
				APIKey:  "key",
				Models:  []string{"model"},
			},
		},
		Router: RouterConfig{
			Default: "test,model",
		},
	}

	err := manager.Save(cfg)
	require.NoError(t, err)

	loadedCfg, err := manager.Load()
	require.NoError(t, err, "should be able to load config")

	assert.Equal(t, DefaultPort, loadedCfg.Port, "should apply default port")
	// No shared secret was set, so the loopback-only invariant forces the host.
	assert.Equal(t, LoopbackHost, loadedCfg.Host, "should force loopback host without a shared secret")
}

func TestConfig_NoSharedSecretForcesLoopback(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Host: "0.0.0.0", // attempt to bind publicly
		Providers: []Provider{
			{Name: "test", Models: []string{"model"}},
		},
		Router: RouterConfig{Default: "test,model"},
	}

	require.NoError(t, manager.Save(cfg))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, LoopbackHost, loaded.Host, "empty shared secret must force loopback bind, even if the file says otherwise")
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	configPath := filepath.Join(tmpDir, DefaultConfigFilename)
	os.WriteFile(configPath, []byte("invalid json"), 0644)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading invalid JSON")
}

func TestConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	_, err := manager.Load()
	assert.Error(t, err, "should get error when loading non-existent file")
	assert.False(t, manager.Exists(), "non-existent config should not exist")
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := manager.Get()
	assert.NotNil(t, cfg, "should not return nil config")
	assert.Equal(t, DefaultPort, cfg.Port, "should return default port")
	assert.Equal(t, LoopbackHost, cfg.Host, "should return loopback host")
}

func TestConfig_RejectsUnknownRouteModel(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Providers: []Provider{{Name: "test", Models: []string{"model-a"}}},
		Router:    RouterConfig{Default: "test,model-b"},
	}
	require.NoError(t, manager.Save(cfg))

	_, err := manager.Load()
	assert.Error(t, err, "default route pointing at an unlisted model should fail validation")
}

func TestConfig_RejectsDuplicateProviderNames(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := &Config{
		Providers: []Provider{
			{Name: "test", Models: []string{"model-a"}},
			{Name: "test", Models: []string{"model-a"}},
		},
		Router: RouterConfig{Default: "test,model-a"},
	}
	require.NoError(t, manager.Save(cfg))

	_, err := manager.Load()
	assert.Error(t, err, "duplicate provider names should fail validation")
}
