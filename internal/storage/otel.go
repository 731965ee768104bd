package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eventui/server/internal/storage"

type metrics struct {
	dirty  metric.Int64ObservableGauge
	saves  metric.Int64Counter
	failed metric.Int64Counter
}

func newMetrics(dirtyLen func() int) (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}

	var err error
	out.dirty, err = m.Int64ObservableGauge(
		"storage.players.dirty",
		metric.WithDescription("Players waiting for the next flush"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dirty gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(out.dirty, int64(dirtyLen()))
			return nil
		},
		out.dirty,
	)
	if err != nil {
		return nil, fmt.Errorf("registering dirty callback: %w", err)
	}

	out.saves, err = m.Int64Counter(
		"storage.players.saved",
		metric.WithDescription("Player states written to the backend"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating saves counter: %w", err)
	}

	out.failed, err = m.Int64Counter(
		"storage.players.failed",
		metric.WithDescription("Player state loads or saves that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return out, nil
}

func reasonAttr(reason string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("reason", reason))
}
