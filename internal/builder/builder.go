package builder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("builder")

// taskBacklog bounds the number of shards queued ahead of the workers.
// Submission blocks when the backlog is full, which is the only form of
// backpressure between seed derivation and disk writes.
const taskBacklog = 6

// Observer receives progress during a build. The reported height is the
// contiguous completion watermark: every shard below it has been fully
// generated and verified this run or was already present. The final call has
// finished set and carries the last completed height of the run.
type Observer interface {
	ShardDone(height int, finished bool)
}

type noopObserver struct{}

func (noopObserver) ShardDone(int, bool) {}

// BuildResult maps each seed generated during a run to its verified SHA-256
// content hash.
type BuildResult map[string]string

// BuildOptions control a single build pass.
type BuildOptions struct {
	// Workers is the number of concurrent shard generation tasks.
	Workers int

	// Cleanup deletes each shard immediately after hashing, for
	// verification-only runs.
	Cleanup bool

	// Rebuild regenerates every shard from height zero instead of resuming.
	Rebuild bool

	// Repair re-checks all heights below the resume point and regenerates
	// any missing or wrong-sized shard before new work starts.
	Repair bool
}

// Builder populates, verifies, repairs, and audits the shard range
// [0, targetHeight) for one address.
type Builder struct {
	cfg   Config
	store *Store
	gen   *Generator
	obs   Observer

	// diskFree reports available bytes on the volume holding the store.
	// Swapped out in tests.
	diskFree func(path string) (uint64, error)
}

// Option configures a Builder.
type Option func(*Builder)

// WithObserver installs a progress observer. The default observer discards
// all progress events.
func WithObserver(obs Observer) Option {
	return func(b *Builder) { b.obs = obs }
}

func New(cfg Config, opts ...Option) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store := NewStore(cfg.StorePath, cfg.UseFolderTree)
	b := &Builder{
		cfg:      cfg,
		store:    store,
		gen:      NewGenerator(store, cfg.ShardSize),
		obs:      noopObserver{},
		diskFree: diskFreeSpace,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// diskFreeSpace returns the available bytes on the filesystem holding path.
func diskFreeSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// resumePoint finds the lowest height whose shard is absent. It is a binary
// search over the seed sequence, so it requires shard presence to be a
// contiguous prefix of the height range: builds always fill heights in
// order, and a gap violates the search's precondition and leaves shards
// beyond the first gap undetected.
func (b *Builder) resumePoint(seeds []string) int {
	return sort.Search(len(seeds), func(h int) bool {
		return !b.store.Exists(seeds[h])
	})
}

type shardTask struct {
	height int
	seed   string
}

type shardResult struct {
	height int
	seed   string
	hash   string
	err    error
}

// pool runs shard generation tasks on a fixed set of workers. active counts
// tasks submitted but not yet drained, which the disk space guard uses to
// project usage of in-flight work.
type pool struct {
	tasks   chan shardTask
	results chan shardResult
	active  atomic.Int64
	wg      sync.WaitGroup
}

func (b *Builder) newPool(ctx context.Context, workers int, cleanup bool) *pool {
	p := &pool{
		tasks:   make(chan shardTask, taskBacklog),
		results: make(chan shardResult, workers+taskBacklog),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				hash, err := b.gen.GenerateShard(ctx, t.seed, cleanup)
				p.results <- shardResult{height: t.height, seed: t.seed, hash: hash, err: err}
			}
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
	return p
}

func (p *pool) submit(ctx context.Context, t shardTask) error {
	p.active.Add(1)
	select {
	case p.tasks <- t:
		return nil
	case <-ctx.Done():
		p.active.Add(-1)
		return ctx.Err()
	}
}

// Build fills the store up to the target height. Unless Rebuild is set it
// resumes from the first absent shard, optionally repairing bad shards below
// that point first. Building stops early, without error, when projected disk
// usage would cross the free space floor or the context is cancelled; the
// observer's final event reports the true last completed height either way.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (BuildResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	seeds, err := Seeds(b.cfg.Address, b.cfg.TargetHeight())
	if err != nil {
		return nil, err
	}

	start := 0
	if !opts.Rebuild {
		start = b.resumePoint(seeds)
		log.Infof("resuming from height %d", start)
	}

	p := b.newPool(ctx, workers, opts.Cleanup)

	// Single drainer: only this goroutine touches the result map and the
	// completion watermark. Workers only produce.
	var (
		result    = make(BuildResult)
		completed = make(map[int]struct{})
		next      = start
		buildErr  error
		drained   = make(chan struct{})
	)
	go func() {
		defer close(drained)
		for r := range p.results {
			p.active.Add(-1)
			if r.err != nil {
				if buildErr == nil && !errors.Is(r.err, context.Canceled) {
					buildErr = r.err
					cancel()
				}
				continue
			}
			result[r.seed] = r.hash
			log.Debugf("saved seed %s with hash %s", r.seed, r.hash)
			completed[r.height] = struct{}{}
			for {
				if _, ok := completed[next]; !ok {
					break
				}
				delete(completed, next)
				next++
			}
			b.obs.ShardDone(next, false)
		}
	}()

	// Repairs go through the same bounded queue, ahead of any new shards.
	if !opts.Rebuild && opts.Repair {
		for h := 0; h < start; h++ {
			if size, ok := b.store.Size(seeds[h]); ok && size == b.cfg.ShardSize {
				continue
			}
			log.Infof("repairing shard at height %d seed %s", h, seeds[h])
			if err := p.submit(ctx, shardTask{height: h, seed: seeds[h]}); err != nil {
				break
			}
		}
	}

	var submitErr error
	for h := start; h < len(seeds); h++ {
		free, err := b.diskFree(b.cfg.StorePath)
		if err != nil {
			submitErr = err
			break
		}
		projected := uint64(b.cfg.ShardSize) * uint64(p.active.Load()+1)
		if free < uint64(b.cfg.MinFreeSize)+projected {
			log.Infof("minimum free disk space reached (%d) for %q", b.cfg.MinFreeSize, b.cfg.StorePath)
			break
		}
		if err := p.submit(ctx, shardTask{height: h, seed: seeds[h]}); err != nil {
			break
		}
	}

	close(p.tasks)
	<-drained

	b.obs.ShardDone(next, true)
	log.Infof("build finished at height %d with %d shards generated", next, len(result))

	if buildErr != nil {
		return nil, buildErr
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return result, nil
}

// Clean deletes every shard in [0, targetHeight), skipping absent ones.
func (b *Builder) Clean() error {
	seeds, err := Seeds(b.cfg.Address, b.cfg.TargetHeight())
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		if err := b.store.Delete(seed); err != nil {
			return err
		}
	}
	return nil
}

// Checkup reports whether every shard in [0, targetHeight) exists. It does
// not verify sizes or content.
func (b *Builder) Checkup() (bool, error) {
	seeds, err := Seeds(b.cfg.Address, b.cfg.TargetHeight())
	if err != nil {
		return false, err
	}
	for _, seed := range seeds {
		if !b.store.Exists(seed) {
			return false, nil
		}
	}
	return true, nil
}
