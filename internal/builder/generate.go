package builder

import (
	"context"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"

	"github.com/shiwani456/dataserv-client/internal/core"
)

const (
	// genChunkSize is the unit of shard writing. Cancellation is observed
	// between chunks, never mid-write.
	genChunkSize = 64 * core.KB

	// writeRetryDelay is the backoff before the single retry of a failed
	// shard write.
	writeRetryDelay = 2 * time.Second
)

// Generator deterministically expands seeds into shard files. The byte
// stream is a SHAKE-256 XOF keyed by the seed, so a shard is reproducible
// from its seed alone on any machine.
type Generator struct {
	store      *Store
	shardSize  int64
	retryDelay time.Duration
}

func NewGenerator(store *Store, shardSize int64) *Generator {
	return &Generator{store: store, shardSize: shardSize, retryDelay: writeRetryDelay}
}

// GenerateShard writes the shard for a seed, reads it back, and returns its
// SHA-256 content hash. A failed write is retried once after a fixed backoff
// before it becomes fatal. With cleanup set the file is deleted immediately
// after hashing, for verification runs that do not retain the bytes.
func (g *Generator) GenerateShard(ctx context.Context, seed string, cleanup bool) (string, error) {
	if err := g.writeShard(ctx, seed); err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		log.Errorf("failed to write shard, will try once more: %s", err)
		time.Sleep(g.retryDelay)
		if err := g.writeShard(ctx, seed); err != nil {
			return "", xerrors.Errorf("shard write retry failed for seed %s: %w", seed, err)
		}
	}

	hash, err := g.store.HashShard(seed)
	if err != nil {
		return "", err
	}

	if cleanup {
		if err := g.store.Delete(seed); err != nil {
			return "", err
		}
	}
	return hash, nil
}

// writeShard streams exactly shardSize pseudo-random bytes to the shard
// file. On cancellation a truncated file may remain; it reads as wrong-sized
// and is regenerated by the next repair pass.
func (g *Generator) writeShard(ctx context.Context, seed string) error {
	if err := ctx.Err(); err != nil {
		return xerrors.Errorf("shard write interrupted: %w", err)
	}
	f, err := g.store.Create(seed)
	if err != nil {
		return err
	}

	xof := sha3.NewShake256()
	xof.Write([]byte(seed))

	buf := make([]byte, genChunkSize)
	var written int64
	for written < g.shardSize {
		select {
		case <-ctx.Done():
			f.Close()
			return xerrors.Errorf("shard write interrupted: %w", ctx.Err())
		default:
		}

		n := g.shardSize - written
		if n > genChunkSize {
			n = genChunkSize
		}
		if _, err := xof.Read(buf[:n]); err != nil {
			f.Close()
			return xerrors.Errorf("failed to read shard stream: %w", err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			f.Close()
			return xerrors.Errorf("failed to write shard: %w", err)
		}
		written += n
	}
	return f.Close()
}
