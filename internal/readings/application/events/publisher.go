package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	readings "coldchain-cloud/internal/readings/domain"
)

// Sink accepts normalized readings for evaluation.
type Sink interface {
	HandleReading(ctx context.Context, reading readings.Reading) error
}

// Publisher writes events to the durable outbox.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// PublishingSink decorates a reading sink with outbox publication.
// Publication failures are logged, never blocking evaluation.
type PublishingSink struct {
	next      Sink
	publisher Publisher
	log       *zap.Logger
}

// NewPublishingSink constructs a publishing sink.
func NewPublishingSink(next Sink, publisher Publisher, log *zap.Logger) (*PublishingSink, error) {
	if next == nil {
		return nil, errors.New("publishing sink: nil sink")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PublishingSink{next: next, publisher: publisher, log: log}, nil
}

// HandleReading publishes ReadingReceived and forwards the reading.
func (s *PublishingSink) HandleReading(ctx context.Context, reading readings.Reading) error {
	if s == nil || s.next == nil {
		return errors.New("publishing sink: nil sink")
	}
	if err := s.next.HandleReading(ctx, reading); err != nil {
		return err
	}
	if s.publisher != nil {
		event := ReadingReceived{
			UnitID:         reading.UnitID,
			SensorID:       reading.SensorID,
			TemperatureC:   reading.TemperatureC,
			Humidity:       reading.Humidity,
			DoorOpen:       reading.DoorOpen,
			BatteryVoltage: reading.BatteryVoltage,
			RSSI:           reading.RSSI,
			OccurredAt:     reading.At,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Error("reading event publish failed",
				zap.String("unit_id", reading.UnitID),
				zap.Error(err))
		}
	}
	return nil
}
