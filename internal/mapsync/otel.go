package mapsync

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/fleetlink/internal/mapsync"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
