package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/database"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/protocol"
	"github.com/smukkama/welfare-notifier/pkg/config"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type fakeSource struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []kafka.Message
}

func (f *fakeSource) Consume(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.committed = append(f.committed, msgs...)
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	offsets := make([]int64, len(f.committed))
	for i, m := range f.committed {
		offsets[i] = m.Offset
	}
	return offsets
}

type fakeStore struct {
	mu       sync.Mutex
	jobs     []database.JobRow
	outcomes []models.DeliveryOutcome
	alerts   map[string]string
	failJob  bool
}

func (f *fakeStore) SaveJob(_ context.Context, job database.JobRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failJob {
		return errors.New("db down")
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) RecordOutcomes(_ context.Context, o []models.DeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o...)
	return nil
}

func (f *fakeStore) RecordAlert(_ context.Context, a models.AlertRecord, _ string, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[a.ID] = outcome
	return nil
}

func TestAuditPublisher_RoundTripThroughBatchWriter(t *testing.T) {
	w := &fakeWriter{}
	pub := NewAuditPublisher(&Producer{writer: w})
	ctx := context.Background()

	job := &models.DispatchJob{
		MessageID:    "m1",
		Kind:         models.KindEmergency,
		Content:      "폭염경보 발령",
		AlertID:      "200",
		Recipients:   make([]models.Recipient, 3),
		Status:       models.DispatchSent,
		SuccessCount: 3,
	}
	require.NoError(t, pub.RecordJob(ctx, job))
	require.NoError(t, pub.RecordOutcomes(ctx, []models.DeliveryOutcome{
		{MessageID: "m1", RecipientID: 1, Succeeded: true},
		{MessageID: "m1", RecipientID: 2, Succeeded: true},
		{MessageID: "m1", RecipientID: 3, Succeeded: true},
	}))
	require.NoError(t, pub.RecordOutcomes(ctx, nil))
	require.NoError(t, pub.RecordAlert(ctx, models.AlertRecord{ID: "200"}, "m1", "sent"))

	require.Len(t, w.msgs, 3)
	for _, m := range w.msgs {
		assert.Equal(t, "m1", string(m.Key))
	}

	src := &fakeSource{msgs: make(chan kafka.Message, 10)}
	store := &fakeStore{alerts: map[string]string{}}
	bw := NewBatchWriter(src, store, 10, time.Hour, zap.NewNop())

	for i, m := range w.msgs {
		m.Offset = int64(i)
		bw.flush(ctx, []kafka.Message{m})
	}

	require.Len(t, store.jobs, 1)
	assert.Equal(t, 3, store.jobs[0].Recipients)
	assert.Equal(t, "SENT", store.jobs[0].Status)
	assert.Len(t, store.outcomes, 3)
	assert.Equal(t, "sent", store.alerts["200"])
	assert.Equal(t, []int64{0, 1, 2}, src.committedOffsets())
}

func TestAuditPublisher_PropagatesWriteError(t *testing.T) {
	pub := NewAuditPublisher(&Producer{writer: &fakeWriter{err: errors.New("broker unreachable")}})
	err := pub.RecordJob(context.Background(), &models.DispatchJob{MessageID: "m1"})
	assert.ErrorContains(t, err, "broker unreachable")
}

func TestBatchWriter_SkipsFailuresAndPoison(t *testing.T) {
	src := &fakeSource{msgs: make(chan kafka.Message, 10)}
	store := &fakeStore{alerts: map[string]string{}, failJob: true}
	bw := NewBatchWriter(src, store, 10, time.Hour, zap.NewNop())

	jobData, err := protocol.EncodeAuditEvent(protocol.NewJobEvent(&models.DispatchJob{MessageID: "m1"}, time.Now()))
	require.NoError(t, err)
	alertData, err := protocol.EncodeAuditEvent(protocol.NewAlertEvent(models.AlertRecord{ID: "200"}, "", "failed", time.Now()))
	require.NoError(t, err)

	written := bw.flush(context.Background(), []kafka.Message{
		{Offset: 0, Value: []byte("not json")},
		{Offset: 1, Value: jobData},
		{Offset: 2, Value: alertData},
	})

	assert.Equal(t, 1, written)
	assert.Equal(t, []int64{0, 2}, src.committedOffsets())
	assert.Equal(t, "failed", store.alerts["200"])
}

func TestBatchWriter_FlushesWhenBatchFull(t *testing.T) {
	src := &fakeSource{msgs: make(chan kafka.Message, 10)}
	store := &fakeStore{alerts: map[string]string{}}
	bw := NewBatchWriter(src, store, 2, time.Hour, zap.NewNop())

	for i, id := range []string{"a", "b", "c", "d"} {
		data, err := protocol.EncodeAuditEvent(protocol.NewAlertEvent(models.AlertRecord{ID: id}, "", "sent", time.Now()))
		require.NoError(t, err)
		src.msgs <- kafka.Message{Offset: int64(i), Value: data}
	}

	bw.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(src.committedOffsets()) == 4
	}, time.Second, 10*time.Millisecond)

	bw.Stop()

	assert.Equal(t, []int64{0, 1, 2, 3}, src.committedOffsets())
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.alerts, 4)
}

func TestProducer_ErrorNamesEventKey(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("not enough replicas")}}
	err := p.Publish(context.Background(), "m7", []byte("{}"))
	assert.ErrorContains(t, err, "m7")
	assert.ErrorContains(t, err, "not enough replicas")
}

func TestEnsureTopic_NoBrokers(t *testing.T) {
	err := EnsureTopic(context.Background(), config.KafkaConfig{TopicAudit: "audit"}, 3, 1)
	assert.Error(t, err)
}
