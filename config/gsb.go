package config

import (
	"github.com/letsencrypt/validator/v10"

	"github.com/letsencrypt/gsb/blog"
	"github.com/letsencrypt/gsb/storage/rediscache"
)

// SafeBrowsingConfig configures a client's connection to the Safe
// Browsing service. Grounded on the historical GoogleSafeBrowsingConfig
// this system's config package descends from.
type SafeBrowsingConfig struct {
	APIKey        string `validate:"required"`
	Base          string
	ClientID      string
	ClientVersion string
	Lists         []string
	HTTPTimeout   Duration
}

// StorageConfig selects and configures a storage.Store backend.
type StorageConfig struct {
	// Driver is "mysql" or "redis".
	Driver   string `validate:"required,oneof=mysql redis"`
	MySQLDSN string
	Redis    rediscache.Config
}

// GSBConfig is the top-level configuration for a Safe Browsing client
// process: the service connection, the storage backend, the update
// cadence, and logging.
type GSBConfig struct {
	SafeBrowsing SafeBrowsingConfig `validate:"required"`
	Storage      StorageConfig      `validate:"required"`
	Interval     Duration
	DebugAddr    string
	Log          blog.Config
}

// Validate checks c against its struct tags, returning the first
// violation found.
func (c GSBConfig) Validate() error {
	return validator.New().Struct(c)
}
