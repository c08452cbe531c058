package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings_CreatesDefaults(t *testing.T) {
	dir := filet.TmpDir(t, "")
	defer filet.CleanUp(t)

	path := filepath.Join(dir, "settings.yaml")
	settings, err := config.LoadSettings(path)
	require.NoError(t, err)

	assert.True(t, settings.SendClient())
	assert.True(t, settings.SendAppeal())
	assert.True(t, filet.Exists(t, path))
}

func TestLoadSettings_ReadsFile(t *testing.T) {
	dir := filet.TmpDir(t, "")
	defer filet.CleanUp(t)

	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("send_client: false\nsend_appeal: true\n"), 0o600))

	settings, err := config.LoadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"send_client": false, "send_appeal": true}, settings.Toggles())
}

func TestLoadSettings_ReadError(t *testing.T) {
	dir := filet.TmpDir(t, "")
	defer filet.CleanUp(t)

	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::::bad_yaml"), 0o600))

	_, err := config.LoadSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read settings")
}

func TestSettings_SetPersists(t *testing.T) {
	dir := filet.TmpDir(t, "")
	defer filet.CleanUp(t)

	path := filepath.Join(dir, "settings.yaml")
	settings, err := config.LoadSettings(path)
	require.NoError(t, err)

	require.NoError(t, settings.Set(config.ToggleSendAppeal, false))
	assert.False(t, settings.SendAppeal())

	err = settings.Set("send_everything", true)
	require.ErrorIs(t, err, config.ErrUnknownToggle)

	reloaded, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.False(t, reloaded.SendAppeal())
	assert.True(t, reloaded.SendClient())
}
