package protection

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/smartramana/ragmesh/pkg/config"
	"github.com/smartramana/ragmesh/pkg/observability"
)

// Level orders system load from healthy to saturated
type Level int

// Load levels
const (
	LevelNormal Level = iota
	LevelElevated
	LevelHigh
	LevelCritical
)

// String returns the level name for logging
func (l Level) String() string {
	switch l {
	case LevelElevated:
		return "elevated"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// MMRMode says whether the degradation profile overrides the query class's
// diversity re-ranking decision
type MMRMode int

// MMR override modes
const (
	MMRAsRequested MMRMode = iota
	MMRForceOn
	MMRForceOff
)

// Profile is the parameter set one request runs under at the current load
// level. A zero Temperature keeps the caller's value.
type Profile struct {
	Level             Level
	TopK              int
	MMR               MMRMode
	MaxOutputTokens   int
	Temperature       float64
	RetrievalTimeout  time.Duration
	GenerationTimeout time.Duration
	Degraded          bool
	Reject            bool
}

// ProfileFor maps a load level and the caller's requested parameters to the
// degraded set: ELEVATED trims retrieval breadth and output length, HIGH
// halves retrieval and caps output hard, CRITICAL pins everything to the
// cheapest settings.
func ProfileFor(level Level, requestedTopK, requestedMaxTokens int) Profile {
	if requestedTopK <= 0 {
		requestedTopK = 5
	}
	if requestedMaxTokens <= 0 {
		requestedMaxTokens = 8192
	}

	p := Profile{Level: level, Degraded: level != LevelNormal}
	switch level {
	case LevelElevated:
		p.TopK = max(4, int(math.Ceil(float64(requestedTopK)*0.75)))
		p.MMR = MMRForceOn
		p.MaxOutputTokens = requestedMaxTokens * 3 / 4
		p.RetrievalTimeout = 15 * time.Second
		p.GenerationTimeout = 30 * time.Second
	case LevelHigh:
		p.TopK = max(3, requestedTopK/2)
		p.MMR = MMRForceOff
		p.MaxOutputTokens = 1024
		p.RetrievalTimeout = 10 * time.Second
		p.GenerationTimeout = 20 * time.Second
	case LevelCritical:
		p.TopK = 2
		p.MMR = MMRForceOff
		p.MaxOutputTokens = 512
		p.Temperature = 0.3
		p.RetrievalTimeout = 5 * time.Second
		p.GenerationTimeout = 10 * time.Second
	default:
		p.TopK = requestedTopK
		p.MMR = MMRAsRequested
		p.MaxOutputTokens = requestedMaxTokens
		p.RetrievalTimeout = 30 * time.Second
		p.GenerationTimeout = 60 * time.Second
	}
	return p
}

// Snapshot is the shedder's view of the host at the last sample
type Snapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	Level         Level
}

// LoadShedder samples host CPU and memory on an interval and maps the worst
// of the two onto a load level. Requests read the level lock-free of the
// sampler goroutine and apply the matching degradation profile. Sampling
// failures fall back to NORMAL rather than shedding blind.
type LoadShedder struct {
	cfg     config.ShedConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	cpuPercent    func(ctx context.Context) (float64, error)
	memoryPercent func(ctx context.Context) (float64, error)

	mu            sync.RWMutex
	cpu           float64
	memory        float64
	level         Level
	degradedSince time.Time
}

// NewLoadShedder creates a shedder with gopsutil-backed sampling. Zero
// thresholds fall back to 70/85/95 CPU and 75/90/95 memory.
func NewLoadShedder(cfg config.ShedConfig, logger observability.Logger, metrics observability.MetricsClient) *LoadShedder {
	if logger == nil {
		logger = observability.NewLogger("shedder")
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	if cfg.CPUElevated <= 0 {
		cfg.CPUElevated = 70
	}
	if cfg.CPUHigh <= 0 {
		cfg.CPUHigh = 85
	}
	if cfg.CPUCritical <= 0 {
		cfg.CPUCritical = 95
	}
	if cfg.MemoryElevated <= 0 {
		cfg.MemoryElevated = 75
	}
	if cfg.MemoryHigh <= 0 {
		cfg.MemoryHigh = 90
	}
	if cfg.MemoryCritical <= 0 {
		cfg.MemoryCritical = 95
	}

	return &LoadShedder{
		cfg:           cfg,
		logger:        logger,
		metrics:       metrics,
		cpuPercent:    sampleCPUPercent,
		memoryPercent: sampleMemoryPercent,
	}
}

// Run samples until the context is cancelled. Start it in its own goroutine.
func (s *LoadShedder) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

// CurrentLevel returns the level from the last sample
func (s *LoadShedder) CurrentLevel() Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// Snapshot returns the last sampled host state, for health output
func (s *LoadShedder) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{CPUPercent: s.cpu, MemoryPercent: s.memory, Level: s.level}
}

// Profile returns the degradation profile for one request at the current
// level. Reject is set only at CRITICAL when the config says to turn
// requests away instead of degrading them.
func (s *LoadShedder) Profile(requestedTopK, requestedMaxTokens int) Profile {
	level := s.CurrentLevel()
	p := ProfileFor(level, requestedTopK, requestedMaxTokens)
	p.Reject = level == LevelCritical && s.cfg.RejectOnCritical
	return p
}

// sample reads host metrics once and reclassifies the load level
func (s *LoadShedder) sample(ctx context.Context) {
	cpuPct, cpuErr := s.cpuPercent(ctx)
	memPct, memErr := s.memoryPercent(ctx)
	if cpuErr != nil || memErr != nil {
		fields := map[string]interface{}{}
		if cpuErr != nil {
			fields["cpu_error"] = cpuErr.Error()
		}
		if memErr != nil {
			fields["memory_error"] = memErr.Error()
		}
		s.logger.Warn("Load sampling failed, assuming normal load", fields)
		cpuPct, memPct = 0, 0
	}

	level := s.classify(cpuPct, memPct)

	s.mu.Lock()
	previous := s.level
	s.cpu = cpuPct
	s.memory = memPct
	s.level = level
	var degradedFor time.Duration
	if level != LevelNormal && previous == LevelNormal {
		s.degradedSince = time.Now()
	}
	if level == LevelNormal && previous != LevelNormal && !s.degradedSince.IsZero() {
		degradedFor = time.Since(s.degradedSince)
		s.degradedSince = time.Time{}
	}
	s.mu.Unlock()

	s.metrics.RecordGauge("rag_load_cpu_percent", cpuPct, nil)
	s.metrics.RecordGauge("rag_load_memory_percent", memPct, nil)
	s.metrics.RecordGauge("rag_load_level", float64(level), nil)

	if level == previous {
		return
	}
	fields := map[string]interface{}{
		"from":           previous.String(),
		"to":             level.String(),
		"cpu_percent":    cpuPct,
		"memory_percent": memPct,
	}
	if level == LevelNormal {
		fields["degraded_for"] = degradedFor.String()
		s.logger.Info("Load level recovered", fields)
	} else {
		s.logger.Warn("Load level changed", fields)
	}
}

// classify maps the sampled percentages onto a level, worst metric wins
func (s *LoadShedder) classify(cpuPct, memPct float64) Level {
	switch {
	case cpuPct >= s.cfg.CPUCritical || memPct >= s.cfg.MemoryCritical:
		return LevelCritical
	case cpuPct >= s.cfg.CPUHigh || memPct >= s.cfg.MemoryHigh:
		return LevelHigh
	case cpuPct >= s.cfg.CPUElevated || memPct >= s.cfg.MemoryElevated:
		return LevelElevated
	default:
		return LevelNormal
	}
}

func sampleCPUPercent(ctx context.Context) (float64, error) {
	// Interval zero compares against the previous call instead of blocking.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func sampleMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}
