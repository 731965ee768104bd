package bridge

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/eventui/server/internal/bridge"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
