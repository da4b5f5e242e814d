// Package config implements a flat key-value configuration store: string
// keys (sm.tile_cache_size, sm.num_async_threads, sm.consolidation.*,
// vfs.*) loaded from TOML with github.com/pelletier/go-toml.
package config

import (
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml"

	"github.com/latticedb/lattice/errors"
)

// Defaults holds the recognised configuration keys and the values the
// Storage Manager falls back to when a key is absent.
var Defaults = map[string]string{
	"sm.tile_cache_size":                 "10485760",
	"sm.num_async_threads":               "4",
	"sm.num_reader_threads":              "4",
	"sm.num_writer_threads":              "4",
	"sm.consolidation.steps":             "4",
	"sm.consolidation.step_min_frags":    "3",
	"sm.consolidation.step_max_frags":    "10",
	"sm.consolidation.step_size_ratio":   "0.3",
	"sm.consolidation.amplification":     "1.5",
}

// Config is a flat map[string]string; typed accessors below do the
// parsing. It is not safe for concurrent mutation,
// matching how the Storage Manager uses it: built once at construction
// time, then read-only for the process lifetime.
type Config struct {
	m map[string]string
}

// New builds a Config seeded with Defaults, then overridden by overrides.
func New(overrides map[string]string) *Config {
	m := make(map[string]string, len(Defaults)+len(overrides))
	for k, v := range Defaults {
		m[k] = v
	}
	for k, v := range overrides {
		m[k] = v
	}
	return &Config{m: m}
}

// Load parses TOML bytes into a flat key set and layers it over Defaults.
// Nested TOML tables become dotted keys (e.g. a "[sm.consolidation]" table
// with "steps = 4" becomes "sm.consolidation.steps").
func Load(data []byte) (*Config, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, errors.Wrap(err, "config: parsing toml")
	}
	flat := make(map[string]string)
	flattenTree(tree, "", flat)
	return New(flat), nil
}

func flattenTree(tree *toml.Tree, prefix string, out map[string]string) {
	for _, k := range tree.Keys() {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		v := tree.Get(k)
		if sub, ok := v.(*toml.Tree); ok {
			flattenTree(sub, key, out)
			continue
		}
		out[key] = toStringValue(v)
	}
}

func toStringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Get returns the raw string value for key, or ok=false if unset.
func (c *Config) Get(key string) (string, bool) {
	v, ok := c.m[key]
	return v, ok
}

// GetString returns the value for key, or def if unset.
func (c *Config) GetString(key, def string) string {
	if v, ok := c.m[key]; ok {
		return v
	}
	return def
}

// GetInt parses key as a base-10 integer.
func (c *Config) GetInt(key string, def int) (int, error) {
	v, ok := c.m[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: parsing %s as int", key)
	}
	return n, nil
}

// GetBytes parses key as a byte count (plain decimal, no unit suffixes -
// sm.tile_cache_size is given in bytes).
func (c *Config) GetBytes(key string, def int64) (int64, error) {
	v, ok := c.m[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "config: parsing %s as byte count", key)
	}
	return n, nil
}

// GetFloat parses key as a float64, used for consolidation's
// step_size_ratio and amplification knobs.
func (c *Config) GetFloat(key string, def float64) (float64, error) {
	v, ok := c.m[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "config: parsing %s as float", key)
	}
	return f, nil
}

// GetDuration parses key with time.ParseDuration, for timeout-valued keys
// under vfs.* (forwarded opaquely to the chosen VFS implementation, which
// is free to recognise its own duration-valued keys).
func (c *Config) GetDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.m[key]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: parsing %s as duration", key)
	}
	return d, nil
}

// WithPrefix returns the subset of raw keys under prefix+"." as their own
// map with the prefix stripped, for forwarding vfs.* keys to a VFS
// implementation's own config loader.
func (c *Config) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	p := prefix + "."
	for k, v := range c.m {
		if len(k) > len(p) && k[:len(p)] == p {
			out[k[len(p):]] = v
		}
	}
	return out
}
