// SPDX-License-Identifier: MIT

package cache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Options selects and configures a cache backend.
type Options struct {
	Backend string // "memory", "redis" or "off"
	Redis   RedisConfig
}

// New creates the cache backend named in opts.
func New(opts Options, logger zerolog.Logger) (Cache, error) {
	switch opts.Backend {
	case "memory":
		return NewMemoryCache(10 * time.Minute), nil
	case "redis":
		return NewRedisCache(opts.Redis, logger)
	case "off", "":
		return NewNoOpCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
