package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingManifest(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, &Manifest{}, m)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := `name: demo
version: 0.2.0
entry: src/main.blu
opt: O2
source_ext: .bulu
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bulu.yaml"), []byte(manifest), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Name)
	assert.Equal(t, "0.2.0", m.Version)
	assert.Equal(t, "src/main.blu", m.Entry)
	assert.Equal(t, "O2", m.Opt)
	assert.Equal(t, ".bulu", m.SourceExt)
}

func TestLoadInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bulu.yaml"), []byte("name: [unclosed"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestResolveDefaults(t *testing.T) {
	cfg := Resolve(&Manifest{}, "app.blu", "", "")
	assert.Equal(t, "app", cfg.Name, "name derives from the entry file stem")
	assert.Equal(t, "O1", cfg.OptLevel)
	assert.Equal(t, "native", cfg.Target)
	assert.Equal(t, ".blu", cfg.SourceExt)
	assert.Equal(t, filepath.Join("target", "build"), cfg.BuildDir)
}

func TestResolveFlagsWin(t *testing.T) {
	m := &Manifest{Name: "demo", Entry: "src/main.blu", Opt: "O2"}
	cfg := Resolve(m, "other.blu", "O3", "bytecode")
	assert.Equal(t, "other.blu", cfg.Entry, "flag entry overrides the manifest")
	assert.Equal(t, "O3", cfg.OptLevel, "flag opt overrides the manifest")
	assert.Equal(t, "bytecode", cfg.Target)
	assert.Equal(t, "demo", cfg.Name, "manifest name survives")
}

func TestResolveManifestFallback(t *testing.T) {
	m := &Manifest{Entry: "src/main.blu", Opt: "O2"}
	cfg := Resolve(m, "", "", "")
	assert.Equal(t, "src/main.blu", cfg.Entry)
	assert.Equal(t, "O2", cfg.OptLevel)
	assert.Equal(t, "main", cfg.Name)
}
