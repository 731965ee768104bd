package progression

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eventui/server/internal/progression"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	queueSize   metric.Int64ObservableGauge
	ingested    metric.Int64Counter
	dropped     metric.Int64Counter
	matched     metric.Int64Counter
	transitions metric.Int64Counter
}

func newMetrics(queueLen func() int) (*metrics, error) {
	m := meter()
	out := &metrics{}

	var err error
	out.queueSize, err = m.Int64ObservableGauge(
		"progression.signals.queue.size",
		metric.WithDescription("Signals waiting for the next tick"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(out.queueSize, int64(queueLen()))
			return nil
		},
		out.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	out.ingested, err = m.Int64Counter(
		"progression.signals.ingested",
		metric.WithDescription("Signals published to the signal bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ingested counter: %w", err)
	}

	out.dropped, err = m.Int64Counter(
		"progression.signals.dropped",
		metric.WithDescription("Signals dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	out.matched, err = m.Int64Counter(
		"progression.signals.matched",
		metric.WithDescription("Signals that advanced at least one objective"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating matched counter: %w", err)
	}

	out.transitions, err = m.Int64Counter(
		"progression.missions.transitions",
		metric.WithDescription("Mission state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	return out, nil
}

func kindAttr(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}
