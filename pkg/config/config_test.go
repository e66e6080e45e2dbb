package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_ExpandsEnvAndKeepsDefaults(t *testing.T) {
	t.Setenv("TESSERA_TEST_TOKEN", "s3cret")
	p := writeConfig(t, "port: 9000\ntoken: ${TESSERA_TEST_TOKEN}\n")

	cfg := sample{Name: "default", Port: 1}
	require.NoError(t, Load(p, &cfg))
	assert.Equal(t, sample{Name: "default", Port: 9000, Token: "s3cret"}, cfg)
}

func TestLoad_Errors(t *testing.T) {
	var cfg sample
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)

	err = Load(writeConfig(t, "port: [\n"), &cfg)
	assert.ErrorContains(t, err, "failed to parse")

	err = Load(writeConfig(t, "port: 0\n"), &cfg)
	assert.ErrorContains(t, err, "config validation failed")
}

func TestLoadOptional(t *testing.T) {
	cfg := sample{Port: 8080}
	require.NoError(t, LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
	assert.Equal(t, 8080, cfg.Port)

	cfg = sample{}
	assert.Error(t, LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg),
		"defaults are still validated")

	require.NoError(t, LoadOptional(writeConfig(t, "port: 7000\n"), &cfg))
	assert.Equal(t, 7000, cfg.Port)
}

func TestMustLoad_Panics(t *testing.T) {
	var cfg sample
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml"), &cfg) })
}
