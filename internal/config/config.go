package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultFileName   = "rollbook.toml"
	defaultDotEnvName = ".env"

	defaultStoragePath  = "data/database.db"
	defaultAuditFile    = "logs/student_audit.log"
	defaultLogLevel     = "info"
	defaultLogMaxSizeMB = 10
	defaultLogMaxFiles  = 5

	memoryStoragePath = ":memory:"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage StorageConfig `toml:"storage"`
	Audit   AuditConfig   `toml:"audit"`
	Logging LoggingConfig `toml:"logging"`
}

type StorageConfig struct {
	Path                   string `toml:"path"`
	EnforceCourseReference bool   `toml:"enforce_course_reference"`
}

type AuditConfig struct {
	File string `toml:"file"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	// DotEnvPath defaults to .env under the rollbook home.
	DotEnvPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	DBPath    *string
	AuditFile *string
}

// LoadReport describes where the loaded values came from.
type LoadReport struct {
	Home       string
	ConfigFile string
	FileFound  bool
	DotEnvKeys []string
}

func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Path:                   defaultStoragePath,
			EnforceCourseReference: false,
		},
		Audit: AuditConfig{
			File: defaultAuditFile,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load layers defaults, the TOML file, the .env file, the process
// environment and flags, in increasing order of precedence. Relative paths in
// the result are resolved against the rollbook home.
func Load(opts LoadOptions) (Config, LoadReport, error) {
	cfg := DefaultConfig()
	report := LoadReport{DotEnvKeys: []string{}}

	home, err := Home(opts.Env)
	if err != nil {
		return Config{}, report, fmt.Errorf("resolve rollbook home: %w", err)
	}
	report.Home = home

	env, err := newEnvironment(opts, home)
	if err != nil {
		return Config{}, report, err
	}
	report.DotEnvKeys = env.dotEnvKeys()

	configPath := ResolveConfigPath(opts.ConfigPath, env.lookup, home)
	report.ConfigFile = configPath
	found, err := loadAndApplyFile(configPath, &cfg)
	if err != nil {
		return Config{}, report, err
	}
	report.FileFound = found

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, report, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if err := validate(cfg); err != nil {
		return Config{}, report, err
	}

	cfg.Storage.Path = resolvePath(home, cfg.Storage.Path)
	cfg.Audit.File = resolvePath(home, cfg.Audit.File)
	cfg.Logging.File = resolvePath(home, cfg.Logging.File)
	return cfg, report, nil
}

// Home returns ROLLBOOK_HOME, or the working directory when it is unset.
func Home(env map[string]string) (string, error) {
	if value, ok := lookupProcessEnv(env, "ROLLBOOK_HOME"); ok && value != "" {
		return filepath.Abs(value)
	}
	return os.Getwd()
}

// ResolveConfigPath picks the config file: an explicit path, then
// ROLLBOOK_CONFIG_PATH, then rollbook.toml under home.
func ResolveConfigPath(explicit string, lookup func(string) (string, bool), home string) string {
	if explicit != "" {
		return explicit
	}
	if lookup != nil {
		if value, ok := lookup("ROLLBOOK_CONFIG_PATH"); ok && value != "" {
			return value
		}
	}
	return filepath.Join(home, DefaultFileName)
}

// WriteFile stores cfg as TOML at path with owner-only permissions.
func WriteFile(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file %q: %w", path, err)
	}
	return nil
}

type rawConfig struct {
	Storage *rawStorage `toml:"storage"`
	Audit   *rawAudit   `toml:"audit"`
	Logging *rawLogging `toml:"logging"`
}

type rawStorage struct {
	Path                   *string `toml:"path"`
	EnforceCourseReference *bool   `toml:"enforce_course_reference"`
}

type rawAudit struct {
	File *string `toml:"file"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) (bool, error) {
	if path == "" {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}

	applyRawConfig(cfg, raw)
	return true, nil
}

func applyRawConfig(cfg *Config, raw rawConfig) {
	if raw.Storage != nil {
		setString(raw.Storage.Path, &cfg.Storage.Path)
		setBool(raw.Storage.EnforceCourseReference, &cfg.Storage.EnforceCourseReference)
	}

	if raw.Audit != nil {
		setString(raw.Audit.File, &cfg.Audit.File)
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}
}

func applyEnvOverrides(cfg *Config, env environment) error {
	if value, ok := env.lookup("ROLLBOOK_DB_PATH"); ok {
		cfg.Storage.Path = value
	}
	if value, ok := env.lookup("ROLLBOOK_ENFORCE_COURSE_REFERENCE"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse ROLLBOOK_ENFORCE_COURSE_REFERENCE: %v", ErrInvalidConfig, err)
		}
		cfg.Storage.EnforceCourseReference = parsed
	}

	if value, ok := env.lookup("ROLLBOOK_AUDIT_FILE"); ok {
		cfg.Audit.File = value
	}

	if value, ok := env.lookup("ROLLBOOK_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := env.lookup("ROLLBOOK_LOG_FILE"); ok {
		cfg.Logging.File = value
	}
	if value, ok := env.lookup("ROLLBOOK_LOG_MAX_SIZE_MB"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse ROLLBOOK_LOG_MAX_SIZE_MB: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := env.lookup("ROLLBOOK_LOG_MAX_FILES"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse ROLLBOOK_LOG_MAX_FILES: %v", ErrInvalidConfig, err)
		}
		cfg.Logging.MaxFiles = parsed
	}
	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	setString(flags.DBPath, &cfg.Storage.Path)
	setString(flags.AuditFile, &cfg.Audit.File)
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("%w: storage.path must not be empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Audit.File) == "" {
		return fmt.Errorf("%w: audit.file must not be empty", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error; got %q", ErrInvalidConfig, cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be > 0", ErrInvalidConfig)
	}
	if cfg.Logging.MaxFiles < 0 {
		return fmt.Errorf("%w: logging.max_files must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func resolvePath(home, path string) string {
	if path == "" || path == memoryStoragePath || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}

func setString(raw *string, target *string) {
	if raw == nil {
		return
	}
	*target = *raw
}

func setBool(raw *bool, target *bool) {
	if raw == nil {
		return
	}
	*target = *raw
}

func setInt(raw *int, target *int) {
	if raw == nil {
		return
	}
	*target = *raw
}

// environment resolves ROLLBOOK_* keys: explicit overrides first, then the
// process environment, then the .env file.
type environment struct {
	overrides map[string]string
	dotEnv    map[string]string
}

func newEnvironment(opts LoadOptions, home string) (environment, error) {
	env := environment{overrides: opts.Env, dotEnv: map[string]string{}}

	path := opts.DotEnvPath
	if path == "" {
		path = filepath.Join(home, defaultDotEnvName)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return env, nil
		}
		return environment{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	env.dotEnv = values
	return env, nil
}

func (e environment) lookup(key string) (string, bool) {
	if value, ok := lookupProcessEnv(e.overrides, key); ok {
		return value, true
	}
	value, ok := e.dotEnv[key]
	return value, ok
}

func (e environment) dotEnvKeys() []string {
	keys := []string{}
	for key := range e.dotEnv {
		if strings.HasPrefix(key, "ROLLBOOK_") {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

func lookupProcessEnv(overrides map[string]string, key string) (string, bool) {
	if overrides != nil {
		if value, ok := overrides[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}
