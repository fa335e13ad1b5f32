// Package config loads the client configuration file.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"github.com/shiwani456/dataserv-client/internal/core"
)

// Config is the full client configuration. Byte quantities are plain byte
// counts in the file.
type Config struct {
	Address        string
	StorePath      string `mapstructure:"store_path"`
	LedgerPath     string `mapstructure:"ledger_path"`
	ShardSize      int64  `mapstructure:"shard_size"`
	MaxSize        int64  `mapstructure:"max_size"`
	MinFreeSize    int64  `mapstructure:"min_free_size"`
	Workers        int
	UseFolderTree  bool   `mapstructure:"use_folder_tree"`
	BlockSize      int    `mapstructure:"block_size"`
	BandwidthCache string `mapstructure:"bandwidth_cache"`
	ExplorerURL    string `mapstructure:"explorer_url"`
}

// Default returns the configuration used when no file overrides it. Paths
// land under ~/.dataserv.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".dataserv")
	return Config{
		StorePath:      filepath.Join(base, "store"),
		LedgerPath:     filepath.Join(base, "ledger"),
		BandwidthCache: filepath.Join(base, "speed_test"),
		ShardSize:      128 * core.MB,
		MaxSize:        core.GB,
		MinFreeSize:    core.GB,
		Workers:        1,
		BlockSize:      10,
	}
}

// Load reads the configuration file at path on top of the defaults. A
// missing file is an error; pass an empty path to get pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, xerrors.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, xerrors.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
