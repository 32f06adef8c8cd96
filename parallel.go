package windlass

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Parallel Execution Configuration
// ============================================================================

// ParallelConfig controls how group-wise primitives fan out over worker
// goroutines. Each primitive runs as a data-parallel pass over independent
// groups; the dispatch control path itself stays single-threaded.
type ParallelConfig struct {
	// MinUnitsForParallel is the minimum number of work units (groups or
	// rows, depending on the primitive) to justify parallel overhead.
	MinUnitsForParallel int

	// MorselSize is the number of units per work morsel.
	MorselSize int

	// MaxWorkers limits the number of worker goroutines (0 = GOMAXPROCS).
	MaxWorkers int

	// Enabled controls whether parallelism is used at all.
	Enabled bool
}

// DefaultParallelConfig returns sensible defaults
func DefaultParallelConfig() *ParallelConfig {
	return &ParallelConfig{
		MinUnitsForParallel: 4096,
		MorselSize:          1024,
		MaxWorkers:          0,
		Enabled:             true,
	}
}

// globalConfig is the default configuration
var globalConfig = DefaultParallelConfig()

// SetParallelConfig sets the global parallelization configuration
func SetParallelConfig(cfg *ParallelConfig) {
	if cfg != nil {
		globalConfig = cfg
	}
}

// GetParallelConfig returns the current configuration
func GetParallelConfig() *ParallelConfig {
	return globalConfig
}

// numWorkers returns the number of workers to use
func (cfg *ParallelConfig) numWorkers() int {
	if cfg.MaxWorkers > 0 {
		return cfg.MaxWorkers
	}
	return runtime.GOMAXPROCS(0)
}

// shouldParallelize determines if an operation should be parallelized
func (cfg *ParallelConfig) shouldParallelize(units int) bool {
	return cfg.Enabled && units >= cfg.MinUnitsForParallel
}

// ============================================================================
// Morsel-Based Work Distribution
// ============================================================================

// morselIterator hands out [start, end) unit ranges to workers with a
// work-stealing atomic cursor.
type morselIterator struct {
	total      int
	morselSize int
	next       int64
}

func newMorselIterator(total, morselSize int) *morselIterator {
	if morselSize <= 0 {
		morselSize = globalConfig.MorselSize
	}
	return &morselIterator{total: total, morselSize: morselSize}
}

// nextMorsel returns the next unclaimed range, or false when exhausted.
// Safe for concurrent use.
func (mi *morselIterator) nextMorsel() (start, end int, ok bool) {
	for {
		s := atomic.LoadInt64(&mi.next)
		if int(s) >= mi.total {
			return 0, 0, false
		}
		e := int(s) + mi.morselSize
		if e > mi.total {
			e = mi.total
		}
		if atomic.CompareAndSwapInt64(&mi.next, s, int64(e)) {
			return int(s), e, true
		}
	}
}

// parallelFor executes fn over [0, total) split into morsels, in parallel when
// the configuration allows it. fn must only write to its own range.
func parallelFor(total int, fn func(start, end int)) {
	cfg := globalConfig
	if !cfg.shouldParallelize(total) {
		fn(0, total)
		return
	}

	iter := newMorselIterator(total, cfg.MorselSize)

	var wg sync.WaitGroup
	for w := 0; w < cfg.numWorkers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				start, end, ok := iter.nextMorsel()
				if !ok {
					return
				}
				fn(start, end)
			}
		}()
	}
	wg.Wait()
}
