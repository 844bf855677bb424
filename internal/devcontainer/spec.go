// Package devcontainer reads the sandbox build manifest committed to a
// repository. Only the fields the orchestrator needs are interpreted; the
// rest of the file is left to the image build.
package devcontainer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jehrhardt/makedev/internal/errors"
)

// Candidate manifest locations relative to the worktree root, in priority
// order.
var manifestPaths = []string{
	"devcontainer.yaml",
	"devcontainer.yml",
	filepath.Join(".devcontainer", "devcontainer.yaml"),
	filepath.Join(".devcontainer", "devcontainer.yml"),
}

// Spec describes how to build and run an environment's container
type Spec struct {
	// Image is a prebuilt image reference. Ignored when Build is set.
	Image string `yaml:"image,omitempty"`

	// Build describes an image built from the worktree
	Build *BuildSpec `yaml:"build,omitempty"`

	// WorkDir is the working directory inside the container
	WorkDir string `yaml:"workdir,omitempty"`

	// Env holds environment variables set in the container
	Env map[string]string `yaml:"env,omitempty"`

	// Mounts holds extra bind mounts as "source:target[:ro]" strings
	Mounts []string `yaml:"mounts,omitempty"`
}

// BuildSpec describes an image build
type BuildSpec struct {
	Dockerfile string `yaml:"dockerfile"`
	Context    string `yaml:"context,omitempty"`
}

// Default returns the spec used when a worktree carries no manifest
func Default(image string) *Spec {
	return &Spec{Image: image}
}

// Load reads the manifest from a worktree, falling back to defaultImage when
// no manifest exists.
func Load(worktreePath, defaultImage string) (*Spec, error) {
	for _, rel := range manifestPaths {
		path := filepath.Join(worktreePath, rel)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrInternal, fmt.Sprintf("failed to read %s", rel), err)
		}
		return Parse(data, rel)
	}
	return Default(defaultImage), nil
}

// Parse decodes manifest bytes. The source name is used in error messages.
func Parse(data []byte, source string) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, fmt.Sprintf("invalid manifest %s", source), err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec names a buildable image source
func (s *Spec) Validate() error {
	if s.Image == "" && s.Build == nil {
		return errors.New(errors.ErrInvalidInput, "manifest must set image or build")
	}
	if s.Build != nil && s.Build.Dockerfile == "" {
		return errors.New(errors.ErrInvalidInput, "manifest build section must set dockerfile")
	}
	for _, m := range s.Mounts {
		parts := strings.Split(m, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return errors.Newf(errors.ErrInvalidInput, "invalid mount %q, want source:target[:ro]", m)
		}
		if len(parts) == 3 && parts[2] != "ro" {
			return errors.Newf(errors.ErrInvalidInput, "invalid mount option %q in %q", parts[2], m)
		}
	}
	return nil
}

// NeedsBuild reports whether the spec requires an image build
func (s *Spec) NeedsBuild() bool {
	return s.Build != nil
}

// EnvList renders Env as KEY=VALUE pairs in deterministic order
func (s *Spec) EnvList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+s.Env[k])
	}
	return list
}
