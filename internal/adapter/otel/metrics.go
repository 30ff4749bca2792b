package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "phasegate"

// Metrics holds all phasegate metric instruments.
type Metrics struct {
	Commits            metric.Int64Counter
	ValidationFailures metric.Int64Counter
	StaleRetries       metric.Int64Counter
	Merges             metric.Int64Counter
	Aborts             metric.Int64Counter
	ValidateDuration   metric.Float64Histogram
	RunDuration        metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Commits, err = meter.Int64Counter("phasegate.commits",
		metric.WithDescription("Number of phase outputs committed"))
	if err != nil {
		return nil, err
	}

	m.ValidationFailures, err = meter.Int64Counter("phasegate.validation.failures",
		metric.WithDescription("Number of candidate outputs rejected by the gate"))
	if err != nil {
		return nil, err
	}

	m.StaleRetries, err = meter.Int64Counter("phasegate.commit.stale_retries",
		metric.WithDescription("Number of commit attempts that lost a concurrent write"))
	if err != nil {
		return nil, err
	}

	m.Merges, err = meter.Int64Counter("phasegate.merges",
		metric.WithDescription("Number of track documents merged"))
	if err != nil {
		return nil, err
	}

	m.Aborts, err = meter.Int64Counter("phasegate.aborts",
		metric.WithDescription("Number of phase executions cancelled or timed out"))
	if err != nil {
		return nil, err
	}

	m.ValidateDuration, err = meter.Float64Histogram("phasegate.validate.duration_seconds",
		metric.WithDescription("Validation duration in seconds, including quality checks"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("phasegate.run.duration_seconds",
		metric.WithDescription("Agent execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
