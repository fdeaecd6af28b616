// Package dbzero is the public host bridge: the thin adapter a Go
// application uses to open prefixes, register class descriptors, create
// and mutate objects, and run queries, without reaching into any of the
// internal/* packages directly.
package dbzero

import (
	"time"

	"github.com/dbzero-io/dbzero/internal/slab"
	"github.com/dbzero-io/dbzero/internal/txn"
)

// Config is the host-provided configuration for an Engine, loadable from
// a YAML file via gopkg.in/yaml.v3 or constructed directly in code.
type Config struct {
	Dir                string        `yaml:"dir"`
	Autocommit         bool          `yaml:"autocommit"`
	AutocommitInterval time.Duration `yaml:"autocommit_interval"`
	CacheSize          int64         `yaml:"cache_size"`
	SlabSize           int           `yaml:"slab_size"`
	DPSize             int           `yaml:"dp_size"`
	MetaIOStepSize     int           `yaml:"metaio_step_size"`
}

// DefaultConfig returns the literal defaults: autocommit enabled at a
// 250ms interval, a 4GiB cache budget, and the slab allocator's own
// stock sizing.
func DefaultConfig() Config {
	return Config{
		Autocommit:         true,
		AutocommitInterval: 250 * time.Millisecond,
		CacheSize:          4 << 30,
		SlabSize:           slab.DefaultSlabSize,
		DPSize:             slab.DefaultDPSize,
		MetaIOStepSize:     4096,
	}
}

func (c Config) txnOptions() txn.Options {
	return txn.Options{
		SlabSize:           c.SlabSize,
		DPSize:             c.DPSize,
		MetaIOStepSize:     c.MetaIOStepSize,
		Autocommit:         c.Autocommit,
		AutocommitInterval: c.AutocommitInterval,
	}
}
