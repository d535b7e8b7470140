package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectFileName is the build tool's project descriptor.
const ProjectFileName = "dbt_project.yml"

// ProjectFile holds the fields of dbt_project.yml guardian cares about.
type ProjectFile struct {
	Name       string   `yaml:"name"`
	Profile    string   `yaml:"profile"`
	TargetPath string   `yaml:"target-path"`
	SeedPaths  []string `yaml:"seed-paths"`
	ModelPaths []string `yaml:"model-paths"`
}

// LoadProjectFile reads dir/dbt_project.yml. A missing file yields an empty
// ProjectFile so the build tool's own defaults apply.
func LoadProjectFile(dir string) (*ProjectFile, error) {
	path := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ProjectFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var p ProjectFile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &p, nil
}

func (p *ProjectFile) targetPath() string {
	if p.TargetPath != "" {
		return p.TargetPath
	}
	return defaultTargetPath
}

func (p *ProjectFile) seedsDir() string {
	if len(p.SeedPaths) > 0 && p.SeedPaths[0] != "" {
		return p.SeedPaths[0]
	}
	return defaultSeedsDir
}
