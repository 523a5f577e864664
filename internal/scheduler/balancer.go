package scheduler

import (
	"sort"
	"sync/atomic"

	"trainfleet/internal/model"
)

// Candidate is one claimable unit: a whole pending job, or a single pending
// shard of a distributed job (Shard non-nil).
type Candidate struct {
	Job   *model.Job
	Shard *model.Shard
}

// ID returns the identifier of the claimable unit.
func (c Candidate) ID() string {
	if c.Shard != nil {
		return c.Shard.ID
	}
	return c.Job.ID
}

// Strategy ranks candidates for a claiming worker. Implementations must be
// deterministic for a given input snapshot and internal cursor state so
// contention retries are reproducible.
type Strategy interface {
	Name() string
	Rank(candidates []Candidate, worker *model.Worker) []Candidate
}

// New returns the strategy for the given policy name, falling back to
// round_robin for unknown names.
func New(name string) Strategy {
	switch name {
	case model.StrategyLeastLoaded:
		return &LeastLoaded{}
	case model.StrategyGPUPriority:
		return &GPUPriority{}
	case model.StrategyPlatformSpecific:
		return &PlatformSpecific{Affinity: DefaultAffinity()}
	default:
		return &RoundRobin{}
	}
}

// RoundRobin cycles through candidates in submission order relative to a
// rotating cursor, independent of worker identity. The cursor advances once
// per ranking call.
type RoundRobin struct {
	cursor uint64
}

func (s *RoundRobin) Name() string { return model.StrategyRoundRobin }

func (s *RoundRobin) Rank(candidates []Candidate, _ *model.Worker) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}
	start := int((atomic.AddUint64(&s.cursor, 1) - 1) % uint64(n))
	ranked := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		ranked = append(ranked, candidates[(start+i)%n])
	}
	return ranked
}

// LeastLoaded prefers jobs whose resource request adds the least load,
// so small jobs drain first and big requests wait for capable workers.
// Ties broken by oldest created_at (FIFO).
type LeastLoaded struct{}

func (s *LeastLoaded) Name() string { return model.StrategyLeastLoaded }

func (s *LeastLoaded) Rank(candidates []Candidate, _ *model.Worker) []Candidate {
	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := loadScore(ranked[i].Job), loadScore(ranked[j].Job)
		if li != lj {
			return li < lj
		}
		return ranked[i].Job.CreatedAt.Before(ranked[j].Job.CreatedAt)
	})
	return ranked
}

// loadScore is a rough weight of a job's resource footprint. GPUs dominate.
func loadScore(job *model.Job) int {
	return job.Resources.GPUCount*1000 + job.Resources.MemoryGB*10 + job.Resources.CPUCount
}

// GPUPriority ranks candidates by descending requested GPU count so
// multi-GPU jobs are serviced first when a capable worker appears.
// Ties broken FIFO.
type GPUPriority struct{}

func (s *GPUPriority) Name() string { return model.StrategyGPUPriority }

func (s *GPUPriority) Rank(candidates []Candidate, _ *model.Worker) []Candidate {
	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		gi, gj := ranked[i].Job.Resources.GPUCount, ranked[j].Job.Resources.GPUCount
		if gi != gj {
			return gi > gj
		}
		return ranked[i].Job.CreatedAt.Before(ranked[j].Job.CreatedAt)
	})
	return ranked
}

// PlatformSpecific reorders candidates by a per-platform affinity table:
// jobs requesting at least the platform's preferred memory are offered
// first to workers on that platform. Ties broken FIFO.
type PlatformSpecific struct {
	// Affinity maps a platform tag to the minimum job memory (GB) that
	// platform is preferred for.
	Affinity map[string]int
}

func (s *PlatformSpecific) Name() string { return model.StrategyPlatformSpecific }

// DefaultAffinity reflects observed free-tier VRAM: kaggle instances carry
// more GPU memory than colab ones, so large-memory jobs go there first.
func DefaultAffinity() map[string]int {
	return map[string]int{
		"kaggle": 13,
		"colab":  0,
	}
}

func (s *PlatformSpecific) Rank(candidates []Candidate, worker *model.Worker) []Candidate {
	threshold, known := s.Affinity[worker.Platform]
	ranked := append([]Candidate(nil), candidates...)
	if !known {
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Job.CreatedAt.Before(ranked[j].Job.CreatedAt)
		})
		return ranked
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		pi := ranked[i].Job.Resources.MemoryGB >= threshold
		pj := ranked[j].Job.Resources.MemoryGB >= threshold
		if pi != pj {
			return pi
		}
		return ranked[i].Job.CreatedAt.Before(ranked[j].Job.CreatedAt)
	})
	return ranked
}
