package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/database"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/protocol"
)

// AuditStore is where consumed audit events end up
type AuditStore interface {
	SaveJob(ctx context.Context, job database.JobRow) error
	RecordOutcomes(ctx context.Context, outcomes []models.DeliveryOutcome) error
	RecordAlert(ctx context.Context, a models.AlertRecord, messageID, outcome string) error
}

type messageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// BatchWriter consumes audit events from Kafka and batch-writes them to the
// database.
type BatchWriter struct {
	consumer      messageSource
	store         AuditStore
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer messageSource, store AuditStore, batchSize int, flushInterval time.Duration, logger *zap.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchWriter{
		consumer:      consumer,
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the database
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes the pending batch and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	close(bw.stopCh)
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go bw.consume(consumeCtx, msgChan)

	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	var batch []kafka.Message
	for {
		select {
		case <-bw.stopCh:
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ctx.Done():
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.flush(ctx, batch)
				batch = nil
			}

		case msg := <-msgChan:
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) consume(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := bw.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			bw.logger.Error("Consumer error", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush writes the batch in order. Failed writes are logged and skipped, as
// are undecodable events; offsets are committed for everything handled.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) int {
	if len(batch) == 0 {
		return 0
	}

	written := 0
	handled := make([]kafka.Message, 0, len(batch))
	for _, msg := range batch {
		err := bw.processMessage(ctx, msg)
		switch {
		case err == nil:
			written++
			handled = append(handled, msg)
		case errors.Is(err, errPoison):
			bw.logger.Warn("Dropping undecodable audit event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			handled = append(handled, msg)
		default:
			bw.logger.Error("Failed to write audit event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}

	if len(handled) > 0 {
		if err := bw.consumer.Commit(ctx, handled...); err != nil {
			bw.logger.Error("Failed to commit offsets", zap.Error(err))
		}
	}

	bw.logger.Debug("Flushed audit batch",
		zap.Int("received", len(batch)),
		zap.Int("written", written),
	)
	return written
}

var errPoison = errors.New("undecodable audit event")

func (bw *BatchWriter) processMessage(ctx context.Context, msg kafka.Message) error {
	e, err := protocol.DecodeAuditEvent(msg.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}

	switch e.Type {
	case protocol.EventDispatchJob:
		j := e.Job
		return bw.store.SaveJob(ctx, database.JobRow{
			MessageID:    j.MessageID,
			Kind:         j.Kind,
			Content:      j.Content,
			AlertID:      j.AlertID,
			Recipients:   j.Recipients,
			Status:       j.Status,
			SuccessCount: j.SuccessCount,
			FailureCount: j.FailureCount,
			CreatedAt:    j.CreatedAt,
		})
	case protocol.EventDeliveryOutcomes:
		return bw.store.RecordOutcomes(ctx, e.Outcomes)
	case protocol.EventAlertProcessed:
		return bw.store.RecordAlert(ctx, e.Alert.Alert, e.Alert.MessageID, e.Alert.Outcome)
	}
	return nil
}
