// Package config loads the cachefileio CLI's on-disk configuration, the
// same way the teacher snapshots its backend Options into a struct at
// startup — simplified to a direct YAML unmarshal since the teacher's
// own configstruct/configmap machinery is internal to its own fs
// package and not a reusable third-party dependency.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Options holds the settings a cachefileio CLI invocation needs.
type Options struct {
	// Root is the cache root directory (entries/ and doomed/ live
	// beneath it).
	Root string `yaml:"root"`
	// MetricsAddr is the address the serve command listens on for
	// Prometheus metrics; empty means ":9180".
	MetricsAddr string `yaml:"metrics_addr"`
	// AccessJournal, if true, enables the optional bbolt-backed
	// non-authoritative last-access journal.
	AccessJournal bool `yaml:"access_journal"`
}

// Default returns the zero-value-safe defaults used when no config file
// is given.
func Default() Options {
	return Options{
		Root: "./cache2",
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so a partial file only overrides what it sets.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "reading config %q", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "parsing config %q", path)
	}
	return opts, nil
}
