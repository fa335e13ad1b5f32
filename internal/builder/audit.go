package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/xerrors"

	"github.com/shiwani456/dataserv-client/internal/core"
)

// auditWindow is the modulus mapping a chain height onto an audit block
// position. With a fixed address and block size, every height selects one of
// auditWindow contiguous shard ranges.
const auditWindow = 1000

// Oracle supplies the chain facts an audit is anchored to. Failure of either
// call is fatal to the audit attempt.
type Oracle interface {
	CurrentHeight() (int, error)
	BlockHash(height int) (string, error)
}

// Audit proves possession of the shard block selected by the oracle's
// current height. Every shard in the block is checked for presence and exact
// size, then re-read from disk; the proof is the SHA-256 digest of the
// concatenated per-shard hex digests in block order. A missing or wrong-sized
// shard yields core.ErrAuditFailed, which callers should treat as a failed
// proof rather than a system error.
func (b *Builder) Audit(ctx context.Context, oracle Oracle) (string, error) {
	height, err := oracle.CurrentHeight()
	if err != nil {
		return "", xerrors.Errorf("failed to fetch chain height: %w", err)
	}
	// The block hash anchors the challenge to a live chain but is not yet
	// folded into the proof digest; the verifier derives the shard range
	// from the height alone.
	if _, err := oracle.BlockHash(height); err != nil {
		return "", xerrors.Errorf("failed to fetch block hash at height %d: %w", height, err)
	}

	blockPos := height % auditWindow
	first := blockPos * b.cfg.BlockSize
	seeds, err := Seeds(b.cfg.Address, first+b.cfg.BlockSize)
	if err != nil {
		return "", err
	}
	block := seeds[first:]

	for i, seed := range block {
		if size, ok := b.store.Size(seed); !ok || size != b.cfg.ShardSize {
			log.Infof("audit of block %d failed: bad shard at height %d", blockPos, first+i)
			return "", xerrors.Errorf("shard at height %d missing or wrong size: %w", first+i, core.ErrAuditFailed)
		}
	}

	var digests strings.Builder
	for _, seed := range block {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		hash, err := b.store.HashShard(seed)
		if err != nil {
			return "", err
		}
		digests.WriteString(hash)
	}

	proof := sha256.Sum256([]byte(digests.String()))
	return hex.EncodeToString(proof[:]), nil
}
