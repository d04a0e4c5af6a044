// Package config loads rbscope configuration.
//
// Sources, later ones winning: built-in defaults, a YAML file, environment
// variables prefixed RBSCOPE_ and finally values set from command line flags.
// Nested keys are separated by a double underscore in the environment, so
// RBSCOPE_TARGET__POINTER_SIZE=4 sets target.pointer_size.
package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/willibrandon/rbscope/pkg/image"
	"github.com/willibrandon/rbscope/pkg/logging"
	"github.com/willibrandon/rbscope/pkg/rbtree"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "RBSCOPE_"

// Config is the full rbscope configuration.
type Config struct {
	Target TargetConfig `koanf:"target"`
	Walk   WalkConfig   `koanf:"walk"`
	// Offsets is an optional generated header of #define NAME (value) lines
	// that tree and field offsets may refer to by name.
	Offsets string              `koanf:"offsets"`
	Image   ImageConfig         `koanf:"image"`
	Log     logging.Config      `koanf:"log"`
	Output  string              `koanf:"output"`
	Trees   map[string]TreeSpec `koanf:"trees"`
	// Symbols names tree heads for targets without debug information. It is
	// a list because expressions such as &g_thrdb.head contain the key
	// delimiter.
	Symbols []SymbolSpec `koanf:"symbols"`
}

// SymbolSpec is a named address and its declared type.
type SymbolSpec struct {
	Name string `koanf:"name"`
	Addr string `koanf:"addr"`
	Type string `koanf:"type"`
}

// TargetConfig describes the inspected machine.
type TargetConfig struct {
	PointerSize int    `koanf:"pointer_size"`
	ByteOrder   string `koanf:"byte_order"`
}

// WalkConfig bounds tree walks.
type WalkConfig struct {
	MaxSteps int `koanf:"max_steps"`
	// Limit caps the records printed per dump, zero for no cap.
	Limit int `koanf:"limit"`
}

// ImageConfig tunes memory image files.
type ImageConfig struct {
	CacheRegions int    `koanf:"cache_regions"`
	Compression  string `koanf:"compression"`
}

// TreeSpec is the configured form of one tree type. Offsets are either
// integers or names from the offsets header.
type TreeSpec struct {
	Kind          string               `koanf:"kind"`
	EntryField    string               `koanf:"entry_field"`
	Entry         map[string]string    `koanf:"entry"`
	ParentTagBits uint                 `koanf:"parent_tag_bits"`
	Fields        map[string]FieldSpec `koanf:"fields"`
}

// FieldSpec locates one record field. A zero Size means the default for the
// field.
type FieldSpec struct {
	Offset string `koanf:"offset"`
	Size   int    `koanf:"size"`
}

// Defaults returns the built-in values as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"target.pointer_size": 8,
		"target.byte_order":   "little",
		"walk.max_steps":      rbtree.DefaultMaxSteps,
		"walk.limit":          0,
		"image.cache_regions": image.DefaultCacheRegions,
		"image.compression":   image.DefaultCompression.String(),
		"log.level":           "info",
		"log.format":          "auto",
		"output":              "text",
	}
}

// ByteOrder returns the configured target byte order.
func (c *Config) ByteOrder() binary.ByteOrder {
	if strings.EqualFold(c.Target.ByteOrder, "big") {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Arch returns the target description used for images.
func (c *Config) Arch() image.Arch {
	return image.Arch{PointerSize: c.Target.PointerSize, BigEndian: strings.EqualFold(c.Target.ByteOrder, "big")}
}

// Validate checks values that would otherwise fail deep inside a walk.
func (c *Config) Validate() error {
	if c.Target.PointerSize != 4 && c.Target.PointerSize != 8 {
		return fmt.Errorf("target.pointer_size: must be 4 or 8, got %d", c.Target.PointerSize)
	}
	switch strings.ToLower(c.Target.ByteOrder) {
	case "little", "big":
	default:
		return fmt.Errorf("target.byte_order: must be little or big, got %q", c.Target.ByteOrder)
	}
	if c.Walk.MaxSteps <= 0 {
		return fmt.Errorf("walk.max_steps: must be positive, got %d", c.Walk.MaxSteps)
	}
	if c.Walk.Limit < 0 {
		return fmt.Errorf("walk.limit: must not be negative, got %d", c.Walk.Limit)
	}
	if _, err := image.ParseCompression(c.Image.Compression); err != nil {
		return fmt.Errorf("image.compression: %w", err)
	}
	return nil
}

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// NewLoader creates a loader seeded with Defaults.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	_ = l.k.Load(mapProvider(Defaults()), nil)
	return l
}

// Load reads the file (if any) and the environment, then applies overrides,
// a flat map of dotted keys usually built from command line flags.
func (l *Loader) Load(overrides map[string]any) (*Config, error) {
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return nil, err
		}
	}
	if err := l.LoadEnv(); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := l.LoadMap(overrides); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile merges a YAML file.
func (l *Loader) LoadFile(path string) error {
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv merges RBSCOPE_ variables. RBSCOPE_WALK__MAX_STEPS -> walk.max_steps
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap merges a flat map of dotted keys.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Keys returns every loaded key
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

// Load is a shortcut for NewLoader(WithConfigFile(path)).Load(overrides). An
// empty path loads no file; a missing file is an error.
func Load(path string, overrides map[string]any) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	return NewLoader(WithConfigFile(path)).Load(overrides)
}
