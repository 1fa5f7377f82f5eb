package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/frederic-klein/yapi/internal/index"
)

const appName = "yapi"

// Config is the persistent configuration, read from config.yaml and
// YAPI_* environment variables. Command-line flags take precedence.
type Config struct {
	IndexURL       string   `mapstructure:"index_url"`
	ExtraIndexURLs []string `mapstructure:"extra_index_urls"`
	FindLinks      []string `mapstructure:"find_links"`
	BuildDir       string   `mapstructure:"build_dir"`
	SrcDir         string   `mapstructure:"src_dir"`
	DownloadCache  string   `mapstructure:"download_cache"`
	DefaultVCS     string   `mapstructure:"default_vcs"`
	Python         string   `mapstructure:"python"`
	Workers        int      `mapstructure:"workers"`
	UserEditable   bool     `mapstructure:"user_editable"`
}

// configDir returns $XDG_CONFIG_HOME/yapi, %APPDATA%\yapi on Windows, or
// ~/.config/yapi.
func configDir() (string, error) {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("APPDATA")
	} else {
		base = os.Getenv("XDG_CONFIG_HOME")
	}
	if base == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// loadConfig reads the configuration. An explicit path must exist; the
// default location is optional.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("index_url", index.DefaultIndexURL)
	v.SetDefault("extra_index_urls", []string{})
	v.SetDefault("find_links", []string{})
	v.SetDefault("build_dir", "")
	v.SetDefault("src_dir", "")
	v.SetDefault("download_cache", "")
	v.SetDefault("default_vcs", "")
	v.SetDefault("python", "python")
	v.SetDefault("workers", 4)
	v.SetDefault("user_editable", true)

	v.SetEnvPrefix("YAPI")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		if candidate := filepath.Join(dir, "config.yaml"); fileExists(candidate) {
			path = candidate
		}
	} else if !fileExists(path) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for _, p := range []*string{&cfg.BuildDir, &cfg.SrcDir, &cfg.DownloadCache} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", *p, err)
		}
		*p = expanded
	}
	return &cfg, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
