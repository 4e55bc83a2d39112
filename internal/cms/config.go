package cms

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"go.uber.org/zap/zapcore"

	"github.com/calvinalkan/sitecms/internal/asset"
	"github.com/calvinalkan/sitecms/internal/content"
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	Document          string            `json:"document"`
	ArticlesDir       string            `json:"articles_dir"`
	AssetsDir         string            `json:"assets_dir"`
	AssetsURLPrefix   string            `json:"assets_url_prefix"`
	AllowedAssetTypes []string          `json:"allowed_asset_types,omitempty"`
	Collections       map[string]string `json:"collections,omitempty"`
	Lock              *bool             `json:"lock,omitempty"`
	LockTimeout       string            `json:"lock_timeout"`
	LogLevel          string            `json:"log_level"`
	Indent            int               `json:"indent"`

	// Resolved values (computed, not serialized)
	EffectiveCwd    string        `json:"-"`
	DocumentAbs     string        `json:"-"`
	ArticlesDirAbs  string        `json:"-"`
	AssetsDirAbs    string        `json:"-"`
	LockTimeoutDur  time.Duration `json:"-"`
	LogLevelParsed  zapcore.Level `json:"-"`
	IndentString    string        `json:"-"`
	LockingDisabled bool          `json:"-"`

	// Sources tracks which config files were loaded (for diagnostics)
	Sources ConfigSources `json:"-"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// DefaultConfig returns the default configuration. The paths match the
// layout of the site: the catalog lives in app.py, articles in
// blog_posts/, uploads in static/images.
func DefaultConfig() Config {
	lock := true

	return Config{
		Document:        "app.py",
		ArticlesDir:     "blog_posts",
		AssetsDir:       "static/images",
		AssetsURLPrefix: "/static/images",
		Lock:            &lock,
		LockTimeout:     "2s",
		LogLevel:        "info",
		Indent:          4,
	}
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".cms.json"

const maxIndent = 16

// pathKeys may be omitted but never set to "".
var pathKeys = []string{"document", "articles_dir", "assets_dir"}

// globalConfigPath returns $XDG_CONFIG_HOME/cms/config.json if set,
// otherwise ~/.config/cms/config.json, or "" without a home directory.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "cms", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "cms", "config.json")
	}

	return ""
}

// LoadConfigInput holds the inputs for LoadConfig.
type LoadConfigInput struct {
	WorkDirOverride  string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath       string            // -c/--config flag value
	DocumentOverride string            // --document flag value; empty means no override
	LogLevelOverride string            // --log-level flag value; empty means no override
	Env              map[string]string // environment variables
}

// LoadConfig loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/cms/config.json or $XDG_CONFIG_HOME/cms/config.json)
// 3. Project config file at default location (.cms.json, if exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func LoadConfig(input LoadConfigInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	if !filepath.IsAbs(workDir) {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
		}

		workDir = abs
	}

	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobalConfig(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if input.DocumentOverride != "" {
		cfg.Document = input.DocumentOverride
	}

	if input.LogLevelOverride != "" {
		cfg.LogLevel = input.LogLevelOverride
	}

	if err := resolveConfig(&cfg, workDir); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func resolveConfig(cfg *Config, workDir string) error {
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}

		return filepath.Join(workDir, p)
	}

	cfg.EffectiveCwd = workDir
	cfg.DocumentAbs = abs(cfg.Document)
	cfg.ArticlesDirAbs = abs(cfg.ArticlesDir)
	cfg.AssetsDirAbs = abs(cfg.AssetsDir)
	cfg.LockingDisabled = cfg.Lock != nil && !*cfg.Lock

	timeout, err := time.ParseDuration(cfg.LockTimeout)
	if err != nil || timeout <= 0 {
		return fmt.Errorf("%w: lock_timeout %q", ErrConfigValue, cfg.LockTimeout)
	}

	cfg.LockTimeoutDur = timeout

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: log_level %q", ErrConfigValue, cfg.LogLevel)
	}

	cfg.LogLevelParsed = level

	if cfg.Indent < 1 || cfg.Indent > maxIndent {
		return fmt.Errorf("%w: indent must be 1-%d, got %d", ErrConfigValue, maxIndent, cfg.Indent)
	}

	cfg.IndentString = strings.Repeat(" ", cfg.Indent)

	for _, ext := range cfg.AllowedAssetTypes {
		if !slices.Contains(asset.Extensions, asset.NormalizeExt(ext)) {
			return fmt.Errorf("%w: allowed_asset_types: %q is not one of %s",
				ErrConfigValue, ext, strings.Join(asset.Extensions, ", "))
		}
	}

	return nil
}

// Registry builds the content registry with the configured collection
// name overrides.
func (c *Config) Registry() (*content.Registry, error) {
	overrides := make(map[content.Kind]string, len(c.Collections))
	for kind, name := range c.Collections {
		overrides[content.Kind(kind)] = name
	}

	schemas := content.BuiltinSchemas(overrides)

	for kind := range overrides {
		if !slices.ContainsFunc(schemas, func(s content.Schema) bool { return s.Kind == kind }) {
			return nil, fmt.Errorf("%w: collections: %w: %q", ErrConfigValue, content.ErrUnknownKind, kind)
		}
	}

	return content.NewRegistry(schemas...)
}

// loadGlobalConfig loads the global user config file if it exists.
// Returns the config, the path if loaded, and any error.
func loadGlobalConfig(env map[string]string) (Config, string, error) {
	globalCfgPath := globalConfigPath(env)
	if globalCfgPath == "" {
		return Config{}, "", nil
	}

	globalCfg, loaded, err := loadConfigFile(globalCfgPath, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return globalCfg, globalCfgPath, nil
}

// loadProjectConfig loads the project config file (.cms.json) or an
// explicit config file. Returns the config, the path if loaded, and any
// error.
func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		_, statErr := os.Stat(cfgFile)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	fileCfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return fileCfg, cfgFile, nil
}

// loadConfigFile loads a config file. If mustExist is false, a missing
// file returns a zero config and loaded=false.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, parseErr := parseConfig(data)
	if parseErr != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, parseErr)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(standardized)))
	dec.DisallowUnknownFields()

	var cfg Config

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// Omitted path keys fall back to lower layers; explicit "" is a mistake.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	for _, key := range pathKeys {
		if val, exists := raw[key]; exists {
			if str, ok := val.(string); ok && str == "" {
				return Config{}, fmt.Errorf("%w: %s", ErrPathEmpty, key)
			}
		}
	}

	return cfg, nil
}

func mergeConfig(base, overlay Config) Config {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	setString(&base.Document, overlay.Document)
	setString(&base.ArticlesDir, overlay.ArticlesDir)
	setString(&base.AssetsDir, overlay.AssetsDir)
	setString(&base.AssetsURLPrefix, overlay.AssetsURLPrefix)
	setString(&base.LockTimeout, overlay.LockTimeout)
	setString(&base.LogLevel, overlay.LogLevel)

	if overlay.AllowedAssetTypes != nil {
		base.AllowedAssetTypes = slices.Clone(overlay.AllowedAssetTypes)
	}

	if len(overlay.Collections) > 0 {
		merged := make(map[string]string, len(base.Collections)+len(overlay.Collections))
		for k, v := range base.Collections {
			merged[k] = v
		}

		for k, v := range overlay.Collections {
			merged[k] = v
		}

		base.Collections = merged
	}

	if overlay.Lock != nil {
		lock := *overlay.Lock
		base.Lock = &lock
	}

	if overlay.Indent != 0 {
		base.Indent = overlay.Indent
	}

	return base
}

// FormatConfig renders the file-level settings of cfg as indented JSON.
func FormatConfig(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("formatting config: %w", err)
	}

	return string(data), nil
}
