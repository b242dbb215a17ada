package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Launcher  LauncherConfig  `yaml:"launcher"`
	Preflight PreflightConfig `yaml:"preflight"`
	Output    OutputConfig    `yaml:"output"`
}

type LauncherConfig struct {
	Java         string        `yaml:"java"`
	Classpath    string        `yaml:"classpath"`
	MainClass    string        `yaml:"main_class"` // empty runs the bundled smaps dumper
	ExtraOptions []string      `yaml:"extra_options"`
	Timeout      time.Duration `yaml:"timeout"`
	LockFile     string        `yaml:"lock_file"`
	LockRetry    time.Duration `yaml:"lock_retry"`
	Env          []string      `yaml:"env"`
	WorkDir      string        `yaml:"work_dir"`
}

type PreflightConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MinMemory uint64 `yaml:"min_memory"` // bytes
}

type OutputConfig struct {
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Launcher: LauncherConfig{
			Timeout:   5 * time.Minute,
			LockFile:  filepath.Join(os.TempDir(), "thp-checker.lock"),
			LockRetry: 500 * time.Millisecond,
		},
		Preflight: PreflightConfig{
			Enabled:   true,
			MinMemory: 2 << 30,
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}

// LoadConfig reads a yaml file on top of Default. An empty path returns Default.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks fields a run cannot do without.
func (c *Config) Validate() error {
	if c.Launcher.Timeout < 0 {
		return fmt.Errorf("launcher.timeout must not be negative")
	}
	switch c.Output.Format {
	case "text", "markdown", "json", "flamegraph-json":
	default:
		return fmt.Errorf("unsupported output.format %q", c.Output.Format)
	}
	return nil
}

// JavaBinary resolves the java launcher: the configured path, then
// $JAVA_HOME/bin/java, then "java" from PATH.
func (l LauncherConfig) JavaBinary() string {
	if l.Java != "" {
		return l.Java
	}
	if home := os.Getenv("JAVA_HOME"); home != "" {
		return filepath.Join(home, "bin", "java")
	}
	return "java"
}
