package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/mediamgr/pkg/storage"
)

const (
	// DefaultBaseDir is the configuration directory below $HOME.
	DefaultBaseDir = ".mediamgr"
	// DefaultConfigFile is the configuration filename.
	DefaultConfigFile = "config.yaml"
	// DefaultDatabase is the document database name used when a context
	// does not set one.
	DefaultDatabase = "mediamgr"
)

// Backend names a store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBadger Backend = "badger"
	BackendRedis  Backend = "redis"
	BackendSQLite Backend = "sqlite"
	BackendNeo4j  Backend = "neo4j"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendMemory, BackendBadger, BackendRedis, BackendSQLite, BackendNeo4j}

// Config is the CLI configuration: a set of named contexts and the one in
// use.
type Config struct {
	CurrentContext string              `json:"current_context,omitempty" yaml:"current_context,omitempty"`
	Contexts       map[string]*Context `json:"contexts,omitempty" yaml:"contexts,omitempty"`

	configPath string
}

// Context selects a store backend and its connection settings.
type Context struct {
	Name string `json:"name" yaml:"name"`

	Backend Backend `json:"backend" yaml:"backend"`

	// Database names the document database inside the backend.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`

	// Schema is an optional registry file replacing the built-in one.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	Badger *BadgerConfig `json:"badger,omitempty" yaml:"badger,omitempty"`
	Redis  *RedisConfig  `json:"redis,omitempty" yaml:"redis,omitempty"`
	SQLite *SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Neo4j  *Neo4jConfig  `json:"neo4j,omitempty" yaml:"neo4j,omitempty"`

	// Source is where ingest reads media files; Library is where it
	// archives them.
	Source  *FileStoreConfig `json:"source,omitempty" yaml:"source,omitempty"`
	Library *FileStoreConfig `json:"library,omitempty" yaml:"library,omitempty"`
}

type BadgerConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
}

type SQLiteConfig struct {
	Path string `json:"path" yaml:"path"`
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
}

// FileStoreConfig is either a local directory or an S3 bucket prefix.
type FileStoreConfig struct {
	Dir string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	S3  *storage.S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// DefaultConfigPath returns ~/.mediamgr/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultBaseDir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration at path, or at DefaultConfigPath when
// path is empty. A missing file yields an empty configuration that is
// written on the first Save.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{
		Contexts:   make(map[string]*Context),
		configPath: path,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	for name, c := range cfg.Contexts {
		c.Name = name
	}
	cfg.configPath = path
	return cfg, nil
}

// Save writes the configuration, creating its directory if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the config directory.
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// AddContext adds or replaces a context and saves. The first context added
// becomes current.
func (c *Config) AddContext(name string, ctx *Context) error {
	if err := ctx.Check(); err != nil {
		return err
	}
	ctx.Name = name
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context and saves.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context and saves.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns the named context.
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found", name)
	}
	return ctx, nil
}

// ListContexts returns the context names, sorted.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns a copy of the named context, or of the current one when
// name is empty, with MEDIAMGR_* environment overrides applied. With no
// context configured at all, it resolves to an on-disk badger store under
// the config directory.
func (c *Config) Resolve(name string) (*Context, error) {
	if name == "" {
		name = c.CurrentContext
	}
	var ctx Context
	switch {
	case name != "":
		found, err := c.GetContext(name)
		if err != nil {
			return nil, err
		}
		ctx = found.clone()
	default:
		ctx = Context{
			Name:    "default",
			Backend: BackendBadger,
			Badger:  &BadgerConfig{Dir: filepath.Join(c.Dir(), "data", "default")},
		}
	}
	if err := ctx.ApplyEnv(); err != nil {
		return nil, err
	}
	if ctx.Database == "" {
		ctx.Database = DefaultDatabase
	}
	if err := ctx.Check(); err != nil {
		return nil, err
	}
	return &ctx, nil
}

func (c *Context) clone() Context {
	out := *c
	if c.Badger != nil {
		b := *c.Badger
		out.Badger = &b
	}
	if c.Redis != nil {
		r := *c.Redis
		out.Redis = &r
	}
	if c.SQLite != nil {
		s := *c.SQLite
		out.SQLite = &s
	}
	if c.Neo4j != nil {
		n := *c.Neo4j
		out.Neo4j = &n
	}
	out.Source = c.Source.clone()
	out.Library = c.Library.clone()
	return out
}

func (f *FileStoreConfig) clone() *FileStoreConfig {
	if f == nil {
		return nil
	}
	out := *f
	if f.S3 != nil {
		s := *f.S3
		out.S3 = &s
	}
	return &out
}

// ApplyEnv overrides fields from MEDIAMGR_* environment variables.
func (c *Context) ApplyEnv() error {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("MEDIAMGR_BACKEND"); ok {
		c.Backend = Backend(v)
	}
	set("MEDIAMGR_DATABASE", &c.Database)
	set("MEDIAMGR_SCHEMA", &c.Schema)

	switch c.Backend {
	case BackendBadger:
		if c.Badger == nil {
			c.Badger = &BadgerConfig{}
		}
		set("MEDIAMGR_BADGER_DIR", &c.Badger.Dir)
	case BackendRedis:
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		set("MEDIAMGR_REDIS_ADDR", &c.Redis.Addr)
		set("MEDIAMGR_REDIS_PASSWORD", &c.Redis.Password)
		if v, ok := os.LookupEnv("MEDIAMGR_REDIS_DB"); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("MEDIAMGR_REDIS_DB: %w", err)
			}
			c.Redis.DB = n
		}
	case BackendSQLite:
		if c.SQLite == nil {
			c.SQLite = &SQLiteConfig{}
		}
		set("MEDIAMGR_SQLITE_PATH", &c.SQLite.Path)
	case BackendNeo4j:
		if c.Neo4j == nil {
			c.Neo4j = &Neo4jConfig{}
		}
		set("MEDIAMGR_NEO4J_URI", &c.Neo4j.URI)
		set("MEDIAMGR_NEO4J_USER", &c.Neo4j.Username)
		set("MEDIAMGR_NEO4J_PASSWORD", &c.Neo4j.Password)
		set("MEDIAMGR_NEO4J_DATABASE", &c.Neo4j.Database)
	}
	return nil
}

// Check reports a missing or inconsistent backend setting.
func (c *Context) Check() error {
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendBadger:
		if c.Badger == nil || c.Badger.Dir == "" {
			return fmt.Errorf("context %q: badger.dir is required", c.Name)
		}
	case BackendRedis:
		if c.Redis == nil || c.Redis.Addr == "" {
			return fmt.Errorf("context %q: redis.addr is required", c.Name)
		}
	case BackendSQLite:
		if c.SQLite == nil || c.SQLite.Path == "" {
			return fmt.Errorf("context %q: sqlite.path is required", c.Name)
		}
	case BackendNeo4j:
		if c.Neo4j == nil || c.Neo4j.URI == "" {
			return fmt.Errorf("context %q: neo4j.uri is required", c.Name)
		}
	case "":
		return fmt.Errorf("context %q: backend is required", c.Name)
	default:
		return fmt.Errorf("context %q: unknown backend %q (want one of %s)", c.Name, c.Backend, backendList())
	}
	return nil
}

func backendList() string {
	names := make([]string, len(Backends))
	for i, b := range Backends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}

// Masked returns a copy safe to print: passwords and secret keys are
// masked.
func (c *Context) Masked() *Context {
	out := c.clone()
	if out.Redis != nil {
		out.Redis.Password = MaskSecret(out.Redis.Password)
	}
	if out.Neo4j != nil {
		out.Neo4j.Password = MaskSecret(out.Neo4j.Password)
	}
	for _, f := range []*FileStoreConfig{out.Source, out.Library} {
		if f != nil && f.S3 != nil {
			f.S3.SecretAccessKey = MaskSecret(f.S3.SecretAccessKey)
		}
	}
	return &out
}

// MaskSecret masks a secret for display, keeping the first and last four
// characters of long values.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
