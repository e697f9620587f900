package reconstruct

import (
	"math"
	"sort"

	"github.com/opd-ai/pepperlink/media"
	"github.com/samber/lo"
)

// Planning defaults.
const (
	DefaultGapTolerance  = 1.2
	DefaultMaxFillPerGap = 180
	DefaultFallbackFPS   = 15.0
	DefaultMinFPS        = 1.0
	DefaultMaxFPS        = 60.0
)

// PlanConfig holds the timing heuristics.
type PlanConfig struct {
	// GapTolerance is the multiple of the expected interval a gap must
	// exceed before filler frames are planned.
	GapTolerance float64
	// MaxFillPerGap caps the fillers planned for a single gap.
	MaxFillPerGap int
	// FallbackFPS is used when nothing else gives a duration.
	FallbackFPS float64
	MinFPS      float64
	MaxFPS      float64
}

// DefaultPlanConfig returns the default heuristics.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		GapTolerance:  DefaultGapTolerance,
		MaxFillPerGap: DefaultMaxFillPerGap,
		FallbackFPS:   DefaultFallbackFPS,
		MinFPS:        DefaultMinFPS,
		MaxFPS:        DefaultMaxFPS,
	}
}

func (c PlanConfig) withDefaults() PlanConfig {
	def := DefaultPlanConfig()
	if c.GapTolerance <= 0 {
		c.GapTolerance = def.GapTolerance
	}
	if c.MaxFillPerGap <= 0 {
		c.MaxFillPerGap = def.MaxFillPerGap
	}
	if c.FallbackFPS <= 0 {
		c.FallbackFPS = def.FallbackFPS
	}
	if c.MinFPS <= 0 {
		c.MinFPS = def.MinFPS
	}
	if c.MaxFPS < c.MinFPS {
		c.MaxFPS = def.MaxFPS
	}
	return c
}

// Plan is the timing decision for one reconstruction.
type Plan struct {
	// Frames is the ordered, filtered record sequence.
	Frames []media.FrameRecord
	// Fillers[i] is how many copies of the previous image precede Frames[i].
	Fillers []int
	// Dropped counts records removed by the ordering filter.
	Dropped int

	MedianDeltaMicros      float64
	ExpectedIntervalMicros float64
	CaptureSpanSeconds     float64
	AudioSeconds           float64
	TargetDurationSeconds  float64
	TotalFillers           int
	FPS                    float64
}

// TotalFrames is the planned output length including fillers.
func (p Plan) TotalFrames() int {
	return len(p.Frames) + p.TotalFillers
}

// BuildPlan orders the records and derives the output timing. audioSeconds
// is zero when no audio duration is known.
func BuildPlan(records []media.FrameRecord, audioSeconds float64, cfg PlanConfig) Plan {
	cfg = cfg.withDefaults()
	ordered := OrderFrames(records)
	plan := Plan{
		Frames:       ordered,
		Dropped:      len(records) - len(ordered),
		AudioSeconds: math.Max(audioSeconds, 0),
	}

	deltas := timestampDeltas(ordered)
	plan.MedianDeltaMicros = median(deltas)
	plan.CaptureSpanSeconds = captureSpan(ordered)

	n := len(ordered)
	timed := lo.CountBy(ordered, func(r media.FrameRecord) bool { return r.HasTimestamp })

	switch {
	case plan.MedianDeltaMicros > 0:
		plan.ExpectedIntervalMicros = plan.MedianDeltaMicros
	case plan.CaptureSpanSeconds > 0 && timed > 1:
		plan.ExpectedIntervalMicros = math.Trunc(plan.CaptureSpanSeconds * 1e6 / float64(timed-1))
	case plan.AudioSeconds > 0 && n > 1:
		plan.ExpectedIntervalMicros = math.Trunc(plan.AudioSeconds * 1e6 / float64(n-1))
	}

	switch {
	case plan.AudioSeconds > 0:
		plan.TargetDurationSeconds = plan.AudioSeconds
	case plan.CaptureSpanSeconds > 0:
		plan.TargetDurationSeconds = plan.CaptureSpanSeconds
	case plan.ExpectedIntervalMicros > 0:
		plan.TargetDurationSeconds = plan.ExpectedIntervalMicros / 1e6 * float64(n)
	case n > 0:
		plan.TargetDurationSeconds = float64(n) / cfg.FallbackFPS
	default:
		plan.TargetDurationSeconds = 1
	}

	plan.Fillers = PlanFillers(ordered, plan.ExpectedIntervalMicros, cfg)
	plan.TotalFillers = lo.Sum(plan.Fillers)

	plan.FPS = float64(plan.TotalFrames()) / plan.TargetDurationSeconds
	plan.FPS = math.Max(cfg.MinFPS, math.Min(cfg.MaxFPS, plan.FPS))

	if plan.ExpectedIntervalMicros <= 0 {
		plan.ExpectedIntervalMicros = math.Trunc(1e6 / plan.FPS)
	}
	return plan
}

// OrderFrames sorts timestamped records by (epoch, timestamp) followed by
// untimestamped records in arrival order, then drops timestamped records
// that are not strictly later than their epoch predecessor.
func OrderFrames(records []media.FrameRecord) []media.FrameRecord {
	sorted := make([]media.FrameRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.HasTimestamp != b.HasTimestamp {
			return a.HasTimestamp
		}
		if !a.HasTimestamp {
			return a.Arrival < b.Arrival
		}
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		return a.Timestamp < b.Timestamp
	})

	out := make([]media.FrameRecord, 0, len(sorted))
	var prev media.FrameRecord
	for _, rec := range sorted {
		if rec.HasTimestamp {
			if prev.HasTimestamp && prev.Epoch == rec.Epoch && rec.Timestamp <= prev.Timestamp {
				continue
			}
			prev = rec
		}
		out = append(out, rec)
	}
	return out
}

// PlanFillers returns, per frame, the number of fillers to write before it.
// Gaps are only measured between timestamped frames of the same epoch.
func PlanFillers(frames []media.FrameRecord, intervalMicros float64, cfg PlanConfig) []int {
	cfg = cfg.withDefaults()
	fillers := make([]int, len(frames))
	if intervalMicros <= 0 {
		return fillers
	}

	var last *media.FrameRecord
	for i := range frames {
		rec := &frames[i]
		if !rec.HasTimestamp {
			continue
		}
		if last != nil && last.Epoch == rec.Epoch {
			gap := float64(rec.Timestamp - last.Timestamp)
			if gap > intervalMicros*cfg.GapTolerance {
				missing := int(math.RoundToEven(gap/intervalMicros)) - 1
				if missing > 0 {
					fillers[i] = min(missing, cfg.MaxFillPerGap)
				}
			}
		}
		last = rec
	}
	return fillers
}

// timestampDeltas returns the positive deltas between consecutive
// timestamped records of the same epoch.
func timestampDeltas(frames []media.FrameRecord) []float64 {
	var deltas []float64
	var last *media.FrameRecord
	for i := range frames {
		rec := &frames[i]
		if !rec.HasTimestamp {
			continue
		}
		if last != nil && last.Epoch == rec.Epoch && rec.Timestamp > last.Timestamp {
			deltas = append(deltas, float64(rec.Timestamp-last.Timestamp))
		}
		last = rec
	}
	return deltas
}

// captureSpan sums the per-epoch spans, in seconds.
func captureSpan(frames []media.FrameRecord) float64 {
	type bounds struct{ first, last uint64 }
	spans := make(map[int]*bounds)
	for _, rec := range frames {
		if !rec.HasTimestamp {
			continue
		}
		b, ok := spans[rec.Epoch]
		if !ok {
			spans[rec.Epoch] = &bounds{first: rec.Timestamp, last: rec.Timestamp}
			continue
		}
		b.first = min(b.first, rec.Timestamp)
		b.last = max(b.last, rec.Timestamp)
	}

	var total uint64
	for _, b := range spans {
		total += b.last - b.first
	}
	return float64(total) / 1e6
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
