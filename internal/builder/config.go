package builder

import (
	"golang.org/x/xerrors"

	"github.com/shiwani456/dataserv-client/internal/core"
)

// Config holds the shard-farming parameters for a single address.
type Config struct {
	// Address is the farmer identity the seed chain is derived from.
	Address string

	// StorePath is the directory shards are written under.
	StorePath string

	// ShardSize is the exact size of every shard file in bytes.
	ShardSize int64

	// MaxSize is the total capacity commitment in bytes. The target height
	// is MaxSize / ShardSize.
	MaxSize int64

	// MinFreeSize is the free disk space floor in bytes. Building stops
	// before projected usage would drop free space below it.
	MinFreeSize int64

	// UseFolderTree nests shards under directories formed from seed
	// prefixes instead of a single flat directory.
	UseFolderTree bool

	// BlockSize is the number of consecutive shards covered by one audit.
	BlockSize int
}

// TargetHeight is the committed shard count, MaxSize / ShardSize rounded down.
func (c Config) TargetHeight() int {
	return int(c.MaxSize / c.ShardSize)
}

func (c Config) Validate() error {
	if c.Address == "" {
		return xerrors.Errorf("address must not be empty: %w", core.ErrInvalidConfig)
	}
	if c.StorePath == "" {
		return xerrors.Errorf("store path must not be empty: %w", core.ErrInvalidConfig)
	}
	if c.ShardSize <= 0 {
		return xerrors.Errorf("shard size %d must be positive: %w", c.ShardSize, core.ErrInvalidConfig)
	}
	if c.MaxSize < c.ShardSize {
		return xerrors.Errorf("max size %d is below one shard: %w", c.MaxSize, core.ErrInvalidConfig)
	}
	if c.BlockSize <= 0 {
		return xerrors.Errorf("audit block size %d must be positive: %w", c.BlockSize, core.ErrInvalidConfig)
	}
	return nil
}
