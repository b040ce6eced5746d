package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds everything the admin client needs at startup. All values
// come from the environment; flags only select the subcommand.
type Config struct {
	// APIBaseURL is the Quill identity API root, including the /api prefix.
	APIBaseURL string `env:"QUILL_API_URL" env-default:"http://localhost:8055/api"`

	// DataDir is where the session database lives. Empty means the
	// platform user config dir, e.g. ~/.config/quillctl.
	DataDir string `env:"QUILL_DATA_DIR"`

	// StoreDriver selects session persistence: sqlite or memory. The
	// memory driver never writes tokens to disk.
	StoreDriver string `env:"QUILL_STORE_DRIVER" env-default:"sqlite"`

	// MasterKeyPath optionally points at a file whose contents derive the
	// key sealing tokens at rest. Unset falls back to QUILL_MASTER_KEY or
	// an ephemeral key.
	MasterKeyPath string `env:"QUILL_MASTER_KEY_PATH"`

	Env       string `env:"QUILL_ENV" env-default:"dev"`
	LogLevel  string `env:"QUILL_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"QUILL_LOG_FORMAT" env-default:"text"`

	// HTTPTimeout bounds every API call.
	HTTPTimeout time.Duration `env:"QUILL_HTTP_TIMEOUT" env-default:"10s"`

	// RefreshInterval is how often the background refresher checks the
	// access token while a long-running command holds a session.
	RefreshInterval time.Duration `env:"QUILL_REFRESH_INTERVAL" env-default:"5m"`

	// RateLimit caps outgoing requests per second; 0 disables the limiter.
	RateLimit float64 `env:"QUILL_RATE_LIMIT" env-default:"0"`
}

// LoadConfig reads configuration from the environment and fills in the
// platform defaults that cleanenv cannot express.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		cfg.DataDir = filepath.Join(base, "quillctl")
	}

	switch cfg.StoreDriver {
	case "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("unknown store driver %q (want sqlite or memory)", cfg.StoreDriver)
	}

	return cfg, nil
}
