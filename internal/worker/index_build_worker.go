package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"docchat/internal/app"
	"docchat/internal/platform/rabbitmq"
)

// SessionBuilder runs one index build to completion.
type SessionBuilder interface {
	BuildSession(ctx context.Context, sc app.SessionContext) (*app.BuildStats, error)
}

// IndexBuildWorker consumes build jobs and runs them one at a time.
type IndexBuildWorker struct {
	conn      *amqp.Connection
	builder   SessionBuilder
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIndexBuildWorker(conn *amqp.Connection, builder SessionBuilder, queueName string) *IndexBuildWorker {
	return &IndexBuildWorker{
		conn:      conn,
		builder:   builder,
		queueName: queueName,
	}
}

func (w *IndexBuildWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					_ = d.Nack(false, shouldRequeue(workerCtx, err))
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

// shouldRequeue reports whether a failed job is worth another attempt.
// Interrupted builds and build failures go back on the queue. Bad payloads,
// missing sessions and empty uploads are dropped since a retry sees the same input.
func shouldRequeue(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, app.ErrIndexBuild):
		return true
	default:
		return false
	}
}

// handle decodes and runs one job.
func (w *IndexBuildWorker) handle(ctx context.Context, body []byte) error {
	var job rabbitmq.BuildJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Error().Err(err).Msg("worker decode build job failed")
		return err
	}
	if err := app.ValidateSessionID(job.SessionID); err != nil {
		log.Error().Str("session_id", job.SessionID).Msg("worker got build job with bad session id")
		return err
	}

	stats, err := w.builder.BuildSession(ctx, app.SessionContext{SessionID: job.SessionID})
	if err != nil {
		if errors.Is(err, app.ErrNotFound) || errors.Is(err, app.ErrEmptyContent) {
			log.Warn().Err(err).Str("session_id", job.SessionID).Msg("worker dropped build job")
		} else {
			log.Error().Err(err).Str("session_id", job.SessionID).Msg("worker build failed")
		}
		return err
	}
	log.Info().Str("session_id", job.SessionID).Int("chunks", stats.Total).Msg("worker build done")
	return nil
}

func (w *IndexBuildWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
