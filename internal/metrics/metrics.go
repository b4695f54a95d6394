// Package metrics records the outcome of a deployment run and exports it in
// the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome as seen by the recorder. Kept free of deploy types so the
// command wires the two together.
type Run struct {
	Contract    string
	Success     bool
	FailedStage string
	Duration    time.Duration
	GasUsed     uint64
	BlockNumber uint64
	FinishedAt  time.Time
}

// Recorder holds the gauges of a single run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	success     *prometheus.GaugeVec
	timestamp   *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	gasUsed     *prometheus.GaugeVec
	blockNumber *prometheus.GaugeVec
	failedStage *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		success: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txregistry_deploy_last_run_success",
				Help: "1 if the last deployment run succeeded, 0 otherwise",
			},
			[]string{"contract"},
		),
		timestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txregistry_deploy_last_run_timestamp_seconds",
				Help: "Unix time the last deployment run finished",
			},
			[]string{"contract"},
		),
		duration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txregistry_deploy_last_run_duration_seconds",
				Help: "Wall time of the last deployment run",
			},
			[]string{"contract"},
		),
		gasUsed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txregistry_deploy_gas_used",
				Help: "Gas used by the last successful contract creation",
			},
			[]string{"contract"},
		),
		blockNumber: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txregistry_deploy_block_number",
				Help: "Block that included the last successful contract creation",
			},
			[]string{"contract"},
		),
		failedStage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "txregistry_deploy_failed_stage",
				Help: "Set to 1 for the stage the last failed run stopped in",
			},
			[]string{"contract", "stage"},
		),
	}
}

// Record sets every gauge from run.
func (r *Recorder) Record(run Run) {
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	r.timestamp.WithLabelValues(run.Contract).Set(float64(finished.Unix()))
	r.duration.WithLabelValues(run.Contract).Set(run.Duration.Seconds())

	if !run.Success {
		r.success.WithLabelValues(run.Contract).Set(0)
		stage := run.FailedStage
		if stage == "" {
			stage = "unknown"
		}
		r.failedStage.WithLabelValues(run.Contract, stage).Set(1)
		return
	}

	r.success.WithLabelValues(run.Contract).Set(1)
	r.gasUsed.WithLabelValues(run.Contract).Set(float64(run.GasUsed))
	r.blockNumber.WithLabelValues(run.Contract).Set(float64(run.BlockNumber))
}

// Gatherer exposes the registry, mainly for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the gauges to path for node-exporter's textfile
// collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
