package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/manager"
	"github.com/jguan/pipeline-console/pkg/infra/metrics"
)

// DefaultMetricsInterval is the stats poll period.
const DefaultMetricsInterval = time.Second

// PipelineMetrics is the latest stats sample of a pipeline, indexed by
// relation (stream) name.
type PipelineMetrics struct {
	Global     manager.GlobalMetrics
	Input      map[string]manager.InputEndpointMetrics
	Output     map[string]manager.OutputEndpointMetrics
	SampledAt  time.Time
	Throughput float64 // processed records per second since the previous sample
}

// StatsSampled reports whether stats are served in status s.
func StatsSampled(s ServerStatus) bool {
	return s == manager.PipelineStatusRunning || s == manager.PipelineStatusPaused
}

// Aggregate sums endpoint counters per relation. Several connectors can
// feed one relation.
func Aggregate(stats *manager.PipelineStats, at time.Time) PipelineMetrics {
	m := PipelineMetrics{
		Input:     make(map[string]manager.InputEndpointMetrics),
		Output:    make(map[string]manager.OutputEndpointMetrics),
		SampledAt: at,
	}
	if stats == nil {
		return m
	}
	m.Global = stats.GlobalMetrics
	for _, in := range stats.Inputs {
		cur := m.Input[in.Config.Stream]
		cur.TotalBytes += in.Metrics.TotalBytes
		cur.TotalRecords += in.Metrics.TotalRecords
		cur.BufferedRecs += in.Metrics.BufferedRecs
		cur.NumParseErrors += in.Metrics.NumParseErrors
		cur.EndOfInput = cur.EndOfInput || in.Metrics.EndOfInput
		m.Input[in.Config.Stream] = cur
	}
	for _, out := range stats.Outputs {
		cur := m.Output[out.Config.Stream]
		cur.TransmittedRecords += out.Metrics.TransmittedRecords
		cur.TransmittedBytes += out.Metrics.TransmittedBytes
		cur.BufferedRecords += out.Metrics.BufferedRecords
		cur.NumEncodeErrors += out.Metrics.NumEncodeErrors
		m.Output[out.Config.Stream] = cur
	}
	return m
}

// MetricsPoller samples the stats of one pipeline while it is running or
// paused.
type MetricsPoller struct {
	api      API
	id       string
	interval time.Duration
	status   func() ServerStatus
	metrics  *metrics.Collectors
	now      func() time.Time

	mu     sync.RWMutex
	latest *PipelineMetrics
}

// NewMetricsPoller polls id. status reports the last known server status;
// no request is made outside Running and Paused.
func NewMetricsPoller(api API, id string, status func() ServerStatus, interval time.Duration, m *metrics.Collectors) *MetricsPoller {
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	return &MetricsPoller{api: api, id: id, interval: interval, status: status, metrics: m, now: time.Now}
}

func (p *MetricsPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Sample(ctx); err != nil && ctx.Err() == nil {
			logger.Debug("stats sample failed", "pipeline_id", p.id, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sample takes one sample. It returns false when the pipeline is not in a
// state that serves stats.
func (p *MetricsPoller) Sample(ctx context.Context) (bool, error) {
	if p.status != nil && !StatsSampled(p.status()) {
		return false, nil
	}

	stats, err := p.api.PipelineStats(ctx, p.id)
	p.metrics.StatsSampled(err)
	if err != nil {
		return false, err
	}

	m := Aggregate(stats, p.now())

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev := p.latest; prev != nil {
		m.Throughput = throughput(*prev, m)
	}
	p.latest = &m
	return true, nil
}

func throughput(prev, cur PipelineMetrics) float64 {
	elapsed := cur.SampledAt.Sub(prev.SampledAt).Seconds()
	if elapsed <= 0 || cur.Global.TotalProcessedRecords < prev.Global.TotalProcessedRecords {
		return 0
	}
	return float64(cur.Global.TotalProcessedRecords-prev.Global.TotalProcessedRecords) / elapsed
}

// Latest returns the most recent sample.
func (p *MetricsPoller) Latest() (PipelineMetrics, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return PipelineMetrics{}, false
	}
	return *p.latest, true
}
