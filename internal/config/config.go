// Package config loads guardian.yaml and the build tool's project file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kamilpajak/guardian/pkg/models"
	"gopkg.in/yaml.v3"
)

// ProfilesDirEnv is the variable the build tool reads its profiles from.
const ProfilesDirEnv = "DBT_PROFILES_DIR"

// DefaultFile is the config file looked up when --config is not given.
const DefaultFile = "guardian.yaml"

const (
	defaultProjectDir     = "dbt"
	defaultPatchTarget    = "models/staging/stg_orders.sql"
	defaultTargetPath     = "target"
	defaultSeedsDir       = "seeds"
	defaultShell          = "/bin/sh"
	defaultAddr           = "127.0.0.1:8080"
	defaultMaxUploadBytes = 10 << 20
	defaultDebounce       = 2 * time.Second

	// MaxPatchAttemptsLimit bounds the re-run loop.
	MaxPatchAttemptsLimit = 10
)

// Config is the resolved guardian configuration. After Load every path is
// absolute.
type Config struct {
	ProjectDir       string       `yaml:"project_dir"`
	ProfilesDir      string       `yaml:"profiles_dir"`
	ResultsPath      string       `yaml:"results_path"`
	PatchTarget      string       `yaml:"patch_target"`
	SeedsDir         string       `yaml:"seeds_dir"`
	MaxPatchAttempts int          `yaml:"max_patch_attempts"`
	Shell            string       `yaml:"shell"`
	Commands         Commands     `yaml:"commands"`
	Server           ServerConfig `yaml:"server"`
	Watch            WatchConfig  `yaml:"watch"`
	Project          *ProjectFile `yaml:"-"`
}

// Commands holds the shell command line for each stage.
type Commands struct {
	Deps string `yaml:"deps"`
	Seed string `yaml:"seed"`
	Run  string `yaml:"run"`
	Test string `yaml:"test"`
}

// For returns the command line configured for stage.
func (c Commands) For(stage models.Stage) (string, bool) {
	switch stage {
	case models.StageDeps:
		return c.Deps, c.Deps != ""
	case models.StageSeed:
		return c.Seed, c.Seed != ""
	case models.StageRun:
		return c.Run, c.Run != ""
	case models.StageTest:
		return c.Test, c.Test != ""
	}
	return "", false
}

// DefaultCommands are the build tool invocations the batch script issues.
func DefaultCommands() Commands {
	return Commands{
		Deps: "dbt deps",
		Seed: "dbt seed --full-refresh",
		Run:  "dbt run",
		Test: "dbt test",
	}
}

// ServerConfig configures the web form front end.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// WatchConfig configures the seeds watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// Load reads the config file at path. A missing file yields the defaults,
// resolved against the current directory.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", path, err)
		}
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	if err := cfg.resolve(base); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve fills defaults and makes paths absolute. Top-level paths are
// relative to base; artifact, target and seed paths to the project dir.
func (c *Config) resolve(base string) error {
	if c.ProjectDir == "" {
		c.ProjectDir = defaultProjectDir
	}
	c.ProjectDir = absFrom(base, c.ProjectDir)

	project, err := LoadProjectFile(c.ProjectDir)
	if err != nil {
		return err
	}
	c.Project = project

	if c.ProfilesDir == "" {
		c.ProfilesDir = os.Getenv(ProfilesDirEnv)
	}
	if c.ProfilesDir == "" {
		c.ProfilesDir = c.ProjectDir
	}
	c.ProfilesDir = absFrom(base, c.ProfilesDir)

	if c.ResultsPath == "" {
		c.ResultsPath = filepath.Join(project.targetPath(), "run_results.json")
	}
	c.ResultsPath = absFrom(c.ProjectDir, c.ResultsPath)

	if c.PatchTarget == "" {
		c.PatchTarget = defaultPatchTarget
	}
	c.PatchTarget = absFrom(c.ProjectDir, c.PatchTarget)

	if c.SeedsDir == "" {
		c.SeedsDir = project.seedsDir()
	}
	c.SeedsDir = absFrom(c.ProjectDir, c.SeedsDir)

	if c.MaxPatchAttempts == 0 {
		c.MaxPatchAttempts = 1
	}
	if c.MaxPatchAttempts < 1 || c.MaxPatchAttempts > MaxPatchAttemptsLimit {
		return fmt.Errorf("max_patch_attempts must be between 1 and %d, got %d", MaxPatchAttemptsLimit, c.MaxPatchAttempts)
	}

	if c.Shell == "" {
		c.Shell = defaultShell
	}

	defaults := DefaultCommands()
	if c.Commands.Deps == "" {
		c.Commands.Deps = defaults.Deps
	}
	if c.Commands.Seed == "" {
		c.Commands.Seed = defaults.Seed
	}
	if c.Commands.Run == "" {
		c.Commands.Run = defaults.Run
	}
	if c.Commands.Test == "" {
		c.Commands.Test = defaults.Test
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = defaultMaxUploadBytes
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = defaultDebounce
	}
	return nil
}

// Env returns the extra environment every build tool command gets.
func (c *Config) Env() []string {
	return []string{ProfilesDirEnv + "=" + c.ProfilesDir}
}

func absFrom(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
