package builder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiwani456/dataserv-client/internal/core"
)

func testConfig(t *testing.T) Config {
	return Config{
		Address:   "farmer1",
		StorePath: t.TempDir(),
		ShardSize: 1024,
		MaxSize:   4096,
		BlockSize: 2,
	}
}

func testBuilder(t *testing.T, cfg Config, opts ...Option) *Builder {
	b, err := New(cfg, opts...)
	require.NoError(t, err)
	return b
}

func testSeeds(t *testing.T, cfg Config) []string {
	seeds, err := Seeds(cfg.Address, cfg.TargetHeight())
	require.NoError(t, err)
	return seeds
}

// recordingObserver remembers every progress event.
type recordingObserver struct {
	heights []int
	final   int
	done    bool
}

func (o *recordingObserver) ShardDone(height int, finished bool) {
	if finished {
		o.final = height
		o.done = true
		return
	}
	o.heights = append(o.heights, height)
}

func TestBuildFullRange(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	result, err := b.Build(context.Background(), BuildOptions{Workers: 2})
	require.NoError(t, err)
	require.Len(t, result, 4)

	seeds := testSeeds(t, cfg)
	for _, seed := range seeds {
		size, ok := b.store.Size(seed)
		require.True(t, ok)
		require.Equal(t, int64(1024), size)

		hash, err := b.store.HashShard(seed)
		require.NoError(t, err)
		require.Equal(t, result[seed], hash)
	}

	ok, err := b.Checkup()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.store.Delete(seeds[2]))
	ok, err = b.Checkup()
	require.NoError(t, err)
	require.False(t, ok)

	_, err = b.Build(context.Background(), BuildOptions{Workers: 2, Repair: true})
	require.NoError(t, err)
	ok, err = b.Checkup()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBuildIdempotent(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	first, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Len(t, first, 4)

	seeds := testSeeds(t, cfg)
	before, err := os.Stat(b.store.Path(seeds[0]))
	require.NoError(t, err)

	second, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Empty(t, second)

	after, err := os.Stat(b.store.Path(seeds[0]))
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime())
}

func TestBuildResume(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	_, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	// Knock out the top of the range; presence stays a contiguous prefix.
	seeds := testSeeds(t, cfg)
	require.NoError(t, b.store.Delete(seeds[2]))
	require.NoError(t, b.store.Delete(seeds[3]))

	lowBefore, err := os.Stat(b.store.Path(seeds[1]))
	require.NoError(t, err)

	result, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Len(t, result, 2)
	require.Contains(t, result, seeds[2])
	require.Contains(t, result, seeds[3])

	lowAfter, err := os.Stat(b.store.Path(seeds[1]))
	require.NoError(t, err)
	require.Equal(t, lowBefore.ModTime(), lowAfter.ModTime())
}

func TestBuildRepair(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	first, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	// Truncate the shard at height 1: present but wrong-sized.
	seeds := testSeeds(t, cfg)
	require.NoError(t, os.WriteFile(b.store.Path(seeds[1]), []byte("short"), 0644))

	untouchedBefore, err := os.Stat(b.store.Path(seeds[3]))
	require.NoError(t, err)

	result, err := b.Build(context.Background(), BuildOptions{Repair: true})
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, first[seeds[1]], result[seeds[1]])

	size, ok := b.store.Size(seeds[1])
	require.True(t, ok)
	require.Equal(t, cfg.ShardSize, size)

	untouchedAfter, err := os.Stat(b.store.Path(seeds[3]))
	require.NoError(t, err)
	require.Equal(t, untouchedBefore.ModTime(), untouchedAfter.ModTime())
}

func TestBuildWithoutRepairSkipsBadShards(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	_, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	seeds := testSeeds(t, cfg)
	require.NoError(t, os.WriteFile(b.store.Path(seeds[1]), []byte("short"), 0644))

	result, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Empty(t, result)

	// The truncated shard survives; only repair fixes it.
	size, ok := b.store.Size(seeds[1])
	require.True(t, ok)
	require.NotEqual(t, cfg.ShardSize, size)
}

func TestBuildDiskSpaceThrottle(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinFreeSize = 1 * core.MB
	obs := &recordingObserver{}
	b := testBuilder(t, cfg, WithObserver(obs))

	// Plenty of room for two submissions, then the floor is hit.
	calls := 0
	b.diskFree = func(string) (uint64, error) {
		calls++
		if calls <= 2 {
			return uint64(10 * core.GB), nil
		}
		return uint64(cfg.MinFreeSize), nil
	}

	result, err := b.Build(context.Background(), BuildOptions{Workers: 1})
	require.NoError(t, err)
	require.Len(t, result, 2)

	require.True(t, obs.done)
	require.Equal(t, 2, obs.final)

	ok, err := b.Checkup()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildCancelled(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := b.Build(ctx, BuildOptions{Workers: 2})
	require.NoError(t, err)
	require.Empty(t, result)

	ok, err := b.Checkup()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBuildWriteErrorFatal(t *testing.T) {
	cfg := testConfig(t)
	blocker := cfg.StorePath + "/blocker"
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	cfg.StorePath = blocker
	cfg.UseFolderTree = true

	b := testBuilder(t, cfg)
	b.gen.retryDelay = time.Millisecond

	_, err := b.Build(context.Background(), BuildOptions{Workers: 2})
	require.Error(t, err)
}

func TestBuildRebuildRewritesEverything(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	first, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	second, err := b.Build(context.Background(), BuildOptions{Rebuild: true})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestBuildCleanupRetainsNothing(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	result, err := b.Build(context.Background(), BuildOptions{Cleanup: true})
	require.NoError(t, err)
	require.Len(t, result, 4)

	for _, seed := range testSeeds(t, cfg) {
		require.False(t, b.store.Exists(seed))
	}
}

func TestBuildObserverWatermark(t *testing.T) {
	cfg := testConfig(t)
	obs := &recordingObserver{}
	b := testBuilder(t, cfg, WithObserver(obs))

	_, err := b.Build(context.Background(), BuildOptions{Workers: 2})
	require.NoError(t, err)

	require.True(t, obs.done)
	require.Equal(t, 4, obs.final)
	require.Len(t, obs.heights, 4)
	// The watermark never moves backwards.
	for i := 1; i < len(obs.heights); i++ {
		require.GreaterOrEqual(t, obs.heights[i], obs.heights[i-1])
	}
}

func TestClean(t *testing.T) {
	cfg := testConfig(t)
	b := testBuilder(t, cfg)

	_, err := b.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	require.NoError(t, b.Clean())
	for _, seed := range testSeeds(t, cfg) {
		require.False(t, b.store.Exists(seed))
	}

	// Cleaning an empty store is a noop.
	require.NoError(t, b.Clean())
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Address: "a", StorePath: "/tmp/x", ShardSize: 1, MaxSize: 1, BlockSize: 1}
	require.NoError(t, valid.Validate())

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Address = "" }},
		{"empty store path", func(c *Config) { c.StorePath = "" }},
		{"zero shard size", func(c *Config) { c.ShardSize = 0 }},
		{"capacity below one shard", func(c *Config) { c.MaxSize = 0 }},
		{"zero block size", func(c *Config) { c.BlockSize = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), core.ErrInvalidConfig)
		})
	}
}
