// Package project reads the optional bulu.yaml manifest and carries
// the build configuration the driver threads through the pipeline.
// Program-wide state lives here explicitly instead of in globals.
package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultSourceExt is the source file extension when the manifest
// does not override it.
const DefaultSourceExt = ".blu"

// Manifest is the bulu.yaml project file.
type Manifest struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Entry     string `yaml:"entry"`
	Opt       string `yaml:"opt"`
	SourceExt string `yaml:"source_ext"`
}

// Config is the resolved build configuration handed to the pipeline.
type Config struct {
	Name      string
	Entry     string
	OptLevel  string
	Target    string // "native" or "bytecode"
	SourceExt string
	BuildDir  string
	EmitIR    bool
}

// Load reads bulu.yaml from dir when present; a missing manifest is
// not an error.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "bulu.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, errors.Wrap(err, "reading manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parsing bulu.yaml")
	}
	return &m, nil
}

// Resolve merges the manifest with flag overrides into a Config.
// Flags win; defaults fill the rest.
func Resolve(m *Manifest, entry, opt, target string) *Config {
	cfg := &Config{
		Entry:     firstOf(entry, m.Entry),
		OptLevel:  firstOf(opt, m.Opt, "O1"),
		Target:    firstOf(target, "native"),
		SourceExt: firstOf(m.SourceExt, DefaultSourceExt),
	}
	cfg.Name = m.Name
	if cfg.Name == "" && cfg.Entry != "" {
		base := filepath.Base(cfg.Entry)
		cfg.Name = strings.TrimSuffix(base, cfg.SourceExt)
	}
	if cfg.Name == "" {
		cfg.Name = "main"
	}
	cfg.BuildDir = filepath.Join("target", "build")
	return cfg
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
