package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"

	"fleetpulse/internal/auth"
	"fleetpulse/internal/config"
)

// Verifier checks a message signature; auth.Authenticator satisfies it.
type Verifier interface {
	Verify(ctx context.Context, header http.Header, body []byte) (string, error)
}

// StartKafka consumes readings from the configured topic. Each message value
// is one reading; the signature and equipment id travel as record headers
// named like their HTTP counterparts.
func StartKafka(ctx context.Context, cfg *config.Manager, service *Service, verifier Verifier, logger *slog.Logger) {
	current := cfg.Get().Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		handle := func(ctx context.Context, m kafka.Message) error {
			return HandleMessage(ctx, m, service, verifier, logger)
		}
		consume(ctx, reader, handle, time.Second, logger)
	}()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

const maxRetryDelay = 30 * time.Second

// consume fetches records until ctx ends. A record is committed once it has
// been stored or rejected for good; a PersistenceError retries the same record
// with growing backoff so a storage outage never skips readings.
func consume(ctx context.Context, reader messageReader, handle func(context.Context, kafka.Message) error, retryDelay time.Duration, logger *slog.Logger) {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				return
			}
			continue
		}
		delay := retryDelay
		for {
			err = handle(ctx, m)
			var perr *PersistenceError
			if !errors.As(err, &perr) {
				break
			}
			if logger != nil {
				logger.Warn("kafka message not stored, retrying", "partition", m.Partition, "offset", m.Offset, "err", err, "retry_in", delay)
			}
			if !BackoffSleep(ctx, delay) {
				return
			}
			delay = min(delay*2, maxRetryDelay)
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			if logger != nil {
				logger.Warn("kafka commit failed", "partition", m.Partition, "offset", m.Offset, "err", err)
			}
		}
	}
}

// HandleMessage authenticates and ingests one record. Auth and validation
// rejections are final; a *PersistenceError means the record was not stored.
func HandleMessage(ctx context.Context, m kafka.Message, service *Service, verifier Verifier, logger *slog.Logger) error {
	start := time.Now()
	header := messageHeader(m)
	authID := ""
	if verifier != nil {
		id, err := verifier.Verify(ctx, header, m.Value)
		if err != nil {
			if logger != nil {
				var authErr *auth.Error
				code := ""
				if errors.As(err, &authErr) {
					code = authErr.Code
				}
				logger.Warn("kafka message rejected", "code", code, "partition", m.Partition, "offset", m.Offset)
			}
			return err
		}
		authID = id
	}
	fields, err := ParseJSONReading(m.Value)
	if err != nil {
		if logger != nil {
			logger.Warn("kafka decode error", "partition", m.Partition, "offset", m.Offset, "err", err)
		}
		return &ValidationError{Err: err}
	}
	_, err = service.Ingest(ctx, fields, authID)
	observe("kafka", start)
	return err
}

func messageHeader(m kafka.Message) http.Header {
	h := http.Header{}
	for _, kh := range m.Headers {
		h.Add(kh.Key, string(kh.Value))
	}
	if h.Get(auth.HeaderEquipmentID) == "" && len(m.Key) > 0 {
		h.Set(auth.HeaderEquipmentID, string(m.Key))
	}
	return h
}
