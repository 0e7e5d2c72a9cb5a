package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g.
// BREEZE_UPDATER_UPDATE_PROVIDER_GITHUB_TOKEN.
const EnvPrefix = "BREEZE_UPDATER"

// FallbackFile is read from the working directory when no file sits next to
// the executable.
const FallbackFile = "updater.toml"

type Config struct {
	Application    ApplicationConfig `mapstructure:"application"`
	Update         UpdateConfig      `mapstructure:"update"`
	Log            LogConfig         `mapstructure:"log"`
	WorkingDir     string            `mapstructure:"working-dir"`
	RequestTimeout time.Duration     `mapstructure:"request-timeout"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type ApplicationConfig struct {
	Name       string `mapstructure:"name"`
	Executable string `mapstructure:"executable"`
}

type UpdateConfig struct {
	BeforeLaunch      bool           `mapstructure:"before-launch"`
	UpdateSelf        bool           `mapstructure:"update-self"`
	ShouldInstall     bool           `mapstructure:"should-install"`
	ShowProgress      bool           `mapstructure:"show-progress"`
	AssetName         string         `mapstructure:"asset-name"`
	SelfAssetName     string         `mapstructure:"self-asset-name"`
	IncludePrerelease bool           `mapstructure:"include-prerelease"`
	RequireChecksum   bool           `mapstructure:"require-checksum"`
	Provider          ProviderConfig `mapstructure:"provider"`
	// SelfProvider publishes the launcher's own releases. An empty Kind
	// leaves self-update unconfigured.
	SelfProvider      ProviderConfig `mapstructure:"self-provider"`
}

type ProviderConfig struct {
	Kind   string       `mapstructure:"kind"`
	GitHub GitHubConfig `mapstructure:"github"`
	S3     S3Config     `mapstructure:"s3"`
	Local  LocalConfig  `mapstructure:"local"`
}

type GitHubConfig struct {
	Repository string `mapstructure:"repository"`
	Token      string `mapstructure:"token"`
	APIURL     string `mapstructure:"api-url"`
}

type S3Config struct {
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
	Region          string        `mapstructure:"region"`
	Endpoint        string        `mapstructure:"endpoint"`
	PathStyle       bool          `mapstructure:"path-style"`
	AccessKeyID     string        `mapstructure:"access-key-id"`
	SecretAccessKey string        `mapstructure:"secret-access-key"`
	PresignExpiry   time.Duration `mapstructure:"presign-expiry"`
}

type LocalConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
}

func Default() *Config {
	return &Config{
		Update: UpdateConfig{
			UpdateSelf:    true,
			ShouldInstall: true,
			SelfAssetName: "breeze-updater-<os>-<arch>",
			Provider: ProviderConfig{
				Kind: "github",
				S3:   S3Config{PresignExpiry: time.Hour},
			},
			SelfProvider: ProviderConfig{
				S3: S3Config{PresignExpiry: time.Hour},
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		RequestTimeout: 30 * time.Second,
	}
}

// defaults registers every key with viper so environment overrides apply to
// keys absent from the file.
var defaults = map[string]any{
	"application.name":                          "",
	"application.executable":                    "",
	"update.before-launch":                      false,
	"update.update-self":                        true,
	"update.should-install":                     true,
	"update.show-progress":                      false,
	"update.asset-name":                         "",
	"update.self-asset-name":                    "breeze-updater-<os>-<arch>",
	"update.include-prerelease":                 false,
	"update.require-checksum":                   false,
	"update.provider.kind":                      "github",
	"update.provider.github.repository":         "",
	"update.provider.github.token":              "",
	"update.provider.github.api-url":            "",
	"update.provider.s3.bucket":                 "",
	"update.provider.s3.prefix":                 "",
	"update.provider.s3.region":                 "",
	"update.provider.s3.endpoint":               "",
	"update.provider.s3.path-style":             false,
	"update.provider.s3.access-key-id":          "",
	"update.provider.s3.secret-access-key":      "",
	"update.provider.s3.presign-expiry":         "1h",
	"update.provider.local.path":                "",
	"update.self-provider.kind":                 "",
	"update.self-provider.github.repository":    "",
	"update.self-provider.github.token":         "",
	"update.self-provider.github.api-url":       "",
	"update.self-provider.s3.bucket":            "",
	"update.self-provider.s3.prefix":            "",
	"update.self-provider.s3.region":            "",
	"update.self-provider.s3.endpoint":          "",
	"update.self-provider.s3.path-style":        false,
	"update.self-provider.s3.access-key-id":     "",
	"update.self-provider.s3.secret-access-key": "",
	"update.self-provider.s3.presign-expiry":    "1h",
	"update.self-provider.local.path":           "",
	"log.level":                                 "info",
	"log.format":                                "text",
	"log.file":                                  "",
	"log.max-size-mb":                           10,
	"log.max-backups":                           3,
	"working-dir":                               "",
	"request-timeout":                           "30s",
}

// Load reads cfgFile, or when empty the first existing of <exe>.toml next to
// the executable and updater.toml in the current directory. A missing default
// file is not an error; an explicit cfgFile must exist.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	path := cfgFile
	if path == "" {
		path = findConfigFile(defaultPaths())
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = path

	if cfg.WorkingDir == "" {
		dir, err := ExecutableDir()
		if err != nil {
			return nil, err
		}
		cfg.WorkingDir = dir
	}
	return cfg, nil
}

// ExecutableDir is the directory holding the running executable, with
// symlinks resolved.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func defaultPaths() []string {
	var paths []string
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, strings.TrimSuffix(exe, filepath.Ext(exe))+".toml")
	}
	return append(paths, FallbackFile)
}

func findConfigFile(paths []string) string {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
