package mosaic

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("mosaic")

var attrOutcome = attribute.Key("outcome")

var metrics = struct {
	rounds         metric.Int64Counter
	roundDuration  metric.Int64Histogram
	minersQueried  metric.Int64Counter
	minersExcluded metric.Int64Counter
	votes          metric.Int64Counter
}{
	rounds: must(meter.Int64Counter("mosaic_rounds",
		metric.WithDescription("Number of validation rounds run, by outcome."))),
	roundDuration: must(meter.Int64Histogram("mosaic_round_duration_ms",
		metric.WithDescription("Histogram of wall-clock validation round duration in milliseconds."),
		metric.WithExplicitBucketBoundaries(100.0, 500.0, 1000.0, 5000.0, 10_000.0, 30_000.0, 60_000.0, 120_000.0),
		metric.WithUnit("ms"))),
	minersQueried: must(meter.Int64Counter("mosaic_miners_queried",
		metric.WithDescription("Number of generation requests dispatched to miners."))),
	minersExcluded: must(meter.Int64Counter("mosaic_miners_excluded",
		metric.WithDescription("Number of miners excluded from a round, by outcome."))),
	votes: must(meter.Int64Counter("mosaic_votes",
		metric.WithDescription("Number of vote submissions attempted, by outcome."))),
}

func must[V any](v V, err error) V {
	if err != nil {
		panic(err)
	}
	return v
}
