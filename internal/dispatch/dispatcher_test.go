package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     map[string]int
	failFor  map[string]bool
	panicFor map[string]bool
	inFlight int32
	maxSeen  int32
	delay    time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:     make(map[string]int),
		failFor:  make(map[string]bool),
		panicFor: make(map[string]bool),
	}
}

func (f *fakeTransport) SendOne(_ context.Context, phone, _ string) (bool, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.sent[phone]++
	fail, boom := f.failFor[phone], f.panicFor[phone]
	f.mu.Unlock()

	if boom {
		panic("transport exploded")
	}
	if fail {
		return false, errors.New("carrier rejected")
	}
	return true, nil
}

func (f *fakeTransport) count(phone string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[phone]
}

type fakeRecorder struct {
	mu       sync.Mutex
	jobs     []models.DispatchStatus
	outcomes []models.DeliveryOutcome
}

func (r *fakeRecorder) RecordJob(_ context.Context, job *models.DispatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.Status)
	return nil
}

func (r *fakeRecorder) RecordOutcomes(_ context.Context, outcomes []models.DeliveryOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcomes...)
	return nil
}

func recipients(n int) []models.Recipient {
	out := make([]models.Recipient, n)
	for i := range out {
		out[i] = models.Recipient{
			ID:          int64(i + 1),
			Name:        fmt.Sprintf("r%d", i+1),
			PhoneNumber: fmt.Sprintf("0101000%04d", i+1),
			IsActive:    true,
		}
	}
	return out
}

func newTestDispatcher(tr *fakeTransport, rec Recorder, batchSize int) *Dispatcher {
	d := NewDispatcher(tr, rec, Config{BatchSize: batchSize, SingleRetries: 3}, zap.NewNop())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	d.single.WithSleeper(func(context.Context, time.Duration) error { return nil })
	return d
}

func TestSend_ConservationAcrossRecipientCounts(t *testing.T) {
	for n := 0; n <= 11; n++ {
		t.Run(fmt.Sprintf("recipients=%d", n), func(t *testing.T) {
			tr := newFakeTransport()
			rs := recipients(n)
			for i, r := range rs {
				switch i % 4 {
				case 1:
					tr.failFor[r.PhoneNumber] = true
				case 2:
					tr.panicFor[r.PhoneNumber] = true
				}
			}

			rec := &fakeRecorder{}
			d := newTestDispatcher(tr, rec, 3)
			job := d.NewJob(models.KindDaily, "hello", rs)

			res := d.Send(context.Background(), job)

			assert.Equal(t, n, res.SuccessCount+res.FailureCount)
			assert.Len(t, res.Outcomes, n)
			assert.Len(t, rec.outcomes, n)
			assert.Equal(t, job.SuccessCount, res.SuccessCount)
			assert.NotEqual(t, models.DispatchSending, job.Status)

			seen := make(map[int64]bool)
			for _, o := range res.Outcomes {
				assert.False(t, seen[o.RecipientID], "duplicate outcome for %d", o.RecipientID)
				seen[o.RecipientID] = true
				assert.Equal(t, job.MessageID, o.MessageID)
			}
		})
	}
}

func TestSend_PanicRecordedAsFailure(t *testing.T) {
	tr := newFakeTransport()
	rs := recipients(3)
	tr.panicFor[rs[1].PhoneNumber] = true

	d := newTestDispatcher(tr, nil, 10)
	res := d.Send(context.Background(), d.NewJob(models.KindEmergency, "x", rs))

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, models.DispatchSent, res.Status)
	for _, o := range res.Outcomes {
		if o.RecipientID == rs[1].ID {
			assert.False(t, o.Succeeded)
			assert.Contains(t, o.Error, "panic")
		}
	}
}

func TestSend_StatusRollup(t *testing.T) {
	tr := newFakeTransport()
	rs := recipients(5)
	tr.failFor[rs[0].PhoneNumber] = true
	tr.failFor[rs[1].PhoneNumber] = true

	d := newTestDispatcher(tr, nil, 2)
	res := d.Send(context.Background(), d.NewJob(models.KindDaily, "x", rs))
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	assert.Equal(t, models.DispatchSent, res.Status)

	for _, r := range rs {
		tr.failFor[r.PhoneNumber] = true
	}
	res = d.Send(context.Background(), d.NewJob(models.KindDaily, "x", rs))
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 5, res.FailureCount)
	assert.Equal(t, models.DispatchFailed, res.Status)
}

func TestSend_NoRecipientsIsSent(t *testing.T) {
	d := newTestDispatcher(newFakeTransport(), nil, 5)
	res := d.Send(context.Background(), d.NewJob(models.KindDaily, "x", nil))
	assert.Equal(t, models.DispatchSent, res.Status)
	assert.Zero(t, res.SuccessCount+res.FailureCount)
}

func TestSend_ConcurrencyBoundedByBatchSize(t *testing.T) {
	tr := newFakeTransport()
	tr.delay = 10 * time.Millisecond

	d := newTestDispatcher(tr, nil, 4)
	res := d.Send(context.Background(), d.NewJob(models.KindDaily, "x", recipients(10)))

	assert.Equal(t, 10, res.SuccessCount)
	assert.LessOrEqual(t, atomic.LoadInt32(&tr.maxSeen), int32(4))
}

func TestSend_PausesBetweenBatches(t *testing.T) {
	var pauses []time.Duration
	d := NewDispatcher(newFakeTransport(), nil, Config{BatchSize: 2, BatchPause: 750 * time.Millisecond}, zap.NewNop())
	d.sleep = func(_ context.Context, dur time.Duration) error {
		pauses = append(pauses, dur)
		return nil
	}

	d.Send(context.Background(), d.NewJob(models.KindDaily, "x", recipients(5)))
	assert.Equal(t, []time.Duration{750 * time.Millisecond, 750 * time.Millisecond}, pauses)
}

func TestSend_CancelledContextStillAccountsForEveryone(t *testing.T) {
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	d := newTestDispatcher(tr, nil, 2)
	d.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	res := d.Send(ctx, d.NewJob(models.KindDaily, "x", recipients(6)))
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 4, res.FailureCount)
	assert.Len(t, res.Outcomes, 6)
}

func TestSend_RecordsJobLifecycle(t *testing.T) {
	rec := &fakeRecorder{}
	d := newTestDispatcher(newFakeTransport(), rec, 5)
	d.Send(context.Background(), d.NewJob(models.KindDaily, "x", recipients(2)))

	require.Len(t, rec.jobs, 2)
	assert.Equal(t, models.DispatchSending, rec.jobs[0])
	assert.Equal(t, models.DispatchSent, rec.jobs[1])
}

func TestSendSingle_RetriesThenFails(t *testing.T) {
	tr := newFakeTransport()
	r := recipients(1)[0]
	tr.failFor[r.PhoneNumber] = true

	rec := &fakeRecorder{}
	d := newTestDispatcher(tr, rec, 5)
	res := d.SendSingle(context.Background(), models.KindReminder, r, "약 드세요")

	assert.Equal(t, models.DispatchFailed, res.Status)
	assert.Equal(t, 3, tr.count(r.PhoneNumber))
	require.Len(t, res.Outcomes, 1)
	assert.False(t, res.Outcomes[0].Succeeded)
	assert.Len(t, rec.outcomes, 1)
}

func TestSendSingle_Success(t *testing.T) {
	tr := newFakeTransport()
	r := recipients(1)[0]

	d := newTestDispatcher(tr, nil, 5)
	res := d.SendSingle(context.Background(), models.KindReminder, r, "약 드세요")

	assert.Equal(t, models.DispatchSent, res.Status)
	assert.Equal(t, 1, tr.count(r.PhoneNumber))
}
