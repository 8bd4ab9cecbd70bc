package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "signq"
	configFile = "config.yaml"
	envPrefix  = "SIGNQ_"
)

type Config struct {
	Store    StoreConfig    `koanf:"store" yaml:"store"`
	Legacy   LegacyConfig   `koanf:"legacy" yaml:"legacy"`
	Tiers    TiersConfig    `koanf:"tiers" yaml:"tiers"`
	Records  RecordsConfig  `koanf:"records" yaml:"records"`
	Calendar CalendarConfig `koanf:"calendar" yaml:"calendar"`
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	// Locale drives name sorting within a day.
	Locale string `koanf:"locale" yaml:"locale" validate:"required"`
}

type StoreConfig struct {
	Path string `koanf:"path" yaml:"path" validate:"required"`
}

type LegacyConfig struct {
	Path string `koanf:"path" yaml:"path" validate:"required"`
}

// TiersConfig points the first two reconciliation tiers at remote
// endpoints. Empty URLs mean the local files are read directly.
type TiersConfig struct {
	PrimaryURL  string        `koanf:"primary_url" yaml:"primary_url" validate:"omitempty,url"`
	PrimaryPath string        `koanf:"primary_path" yaml:"primary_path"`
	LegacyURL   string        `koanf:"legacy_url" yaml:"legacy_url" validate:"omitempty,url"`
	LegacyPath  string        `koanf:"legacy_path" yaml:"legacy_path"`
	Timeout     time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
}

type RecordsConfig struct {
	BaseURL    string        `koanf:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Token      string        `koanf:"token" yaml:"token"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxRetries uint64        `koanf:"max_retries" yaml:"max_retries" validate:"lte=10"`
	RetryBase  time.Duration `koanf:"retry_base" yaml:"retry_base" validate:"gte=0"`
}

type CalendarConfig struct {
	Name            string `koanf:"name" yaml:"name" validate:"required"`
	Schedule        string `koanf:"schedule" yaml:"schedule"`
	CredentialsPath string `koanf:"credentials_path" yaml:"credentials_path"`
	TokenPath       string `koanf:"token_path" yaml:"token_path"`
	IndexPath       string `koanf:"index_path" yaml:"index_path"`
	ColorsPath      string `koanf:"colors_path" yaml:"colors_path"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr" validate:"required"`
}

type LogConfig struct {
	Level string `koanf:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

// Dir is the per-user configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

func Default() Config {
	dir, err := Dir()
	if err != nil {
		dir = "." + xdgAppName
	}
	return Config{
		Store:  StoreConfig{Path: filepath.Join(dir, "sign_queue.json")},
		Legacy: LegacyConfig{Path: filepath.Join(dir, "sign_queue_legacy.json")},
		Tiers: TiersConfig{
			PrimaryPath: "/sign-queue",
			LegacyPath:  "/sign-queue-legacy",
			Timeout:     10 * time.Second,
		},
		Records: RecordsConfig{
			Timeout:    15 * time.Second,
			MaxRetries: 3,
			RetryBase:  200 * time.Millisecond,
		},
		Calendar: CalendarConfig{
			Name:            "Podpisy",
			CredentialsPath: filepath.Join(dir, "credentials.json"),
			TokenPath:       filepath.Join(dir, "token.json"),
			IndexPath:       filepath.Join(dir, "event_index.json"),
			ColorsPath:      filepath.Join(dir, "subject_colors.json"),
		},
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
		Locale: "pl",
	}
}

// LoadDotEnv reads .env files into the process environment. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load merges defaults, the YAML file at path and SIGNQ_* environment
// variables, in that order. An empty path means the default location, which
// may be absent.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	optional := path == ""
	if optional {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := loadFile(k, path, optional); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	for key, value := range flattenMap("", raw) {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// transformEnvKey maps SIGNQ_RECORDS_BASE_URL to records.base_url.
func transformEnvKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' })
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], value
	}
	return parts[0] + "." + strings.Join(parts[1:], "_"), value
}

func flattenMap(prefix string, m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for fk, fv := range flattenMap(key, nested) {
				result[fk] = fv
			}
			continue
		}
		result[key] = v
	}
	return result
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Calendar.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Calendar.Schedule); err != nil {
			return fmt.Errorf("invalid calendar schedule %q: %w", cfg.Calendar.Schedule, err)
		}
	}
	return nil
}

// Save writes cfg as YAML to the default location.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
