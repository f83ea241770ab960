package vm

// ---------------------------------------------------------------------------
// Inline-cache statistics
// ---------------------------------------------------------------------------

// CacheStats aggregates the state of the inline property caches across the
// materialised code blocks of a runtime. Gated by the JS-function profiler
// feature.
type CacheStats struct {
	CodeBlocks   int
	TotalEntries int
	FilledRead   int
	FilledWrite  int
	EmptyEntries int
	// FilledRate is the filled share of all entries, 0-100.
	FilledRate float64
}

// CollectCacheStats walks every materialised CodeBlock of every loaded
// module and tallies its cache entries. Aborts when the profiler feature is
// off.
func CollectCacheStats(r *Runtime) CacheStats {
	if !r.Features.JSFunctionProfiler {
		fatalf("CollectCacheStats: JS function profiler not enabled")
	}
	var stats CacheStats
	for _, m := range r.modules {
		m.forEachCodeBlock(func(cb *CodeBlock) {
			stats.CodeBlocks++
			for i := range cb.propertyCache {
				stats.TotalEntries++
				e := &cb.propertyCache[i]
				switch {
				case e.IsEmpty():
					stats.EmptyEntries++
				case uint32(i) < cb.writePropCacheOffset:
					stats.FilledRead++
				default:
					stats.FilledWrite++
				}
			}
		})
	}
	if stats.TotalEntries > 0 {
		filled := stats.FilledRead + stats.FilledWrite
		stats.FilledRate = float64(filled) * 100 / float64(stats.TotalEntries)
	}
	return stats
}
