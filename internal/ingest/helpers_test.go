package ingest

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"fleetpulse/internal/auth"
	"fleetpulse/internal/conditioner"
	"fleetpulse/internal/normalize"
)

const readingTime = "2026-01-01T00:00:00Z"

func fieldsFor(equipment, sensor string) normalize.ReadingFields {
	v := 1.0
	return normalize.ReadingFields{EquipmentID: equipment, SensorType: sensor, Value: &v, Timestamp: readingTime}
}

func asPersistence(err error, target **PersistenceError) bool {
	return errors.As(err, target)
}

func kafkaMessage(body []byte, signature string) kafka.Message {
	return kafka.Message{
		Value: body,
		Headers: []kafka.Header{
			{Key: auth.HeaderSignature, Value: []byte(signature)},
		},
	}
}

// passthrough keeps every reading unchanged.
type passthrough struct{}

func (passthrough) Process(ctx context.Context, in conditioner.Input) (conditioner.Result, error) {
	return conditioner.Result{ShouldKeep: true, ProcessedValue: in.Value}, nil
}
