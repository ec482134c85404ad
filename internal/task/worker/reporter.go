package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"inquisitor/internal/jobs"
	"inquisitor/internal/queue"
	logx "inquisitor/pkg/logx"
)

// StatusPartition is the single ordering domain of the status channel.
const StatusPartition = "job_status"

// Reporter publishes job status updates to the status channel.
type Reporter struct {
	ch      queue.Channel
	retries int
	backoff Backoff
	log     logx.Logger
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

func NewReporter(ch queue.Channel, retries int, backoff Backoff, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if retries < 0 {
		retries = 0
	}
	return &Reporter{
		ch:      ch,
		retries: retries,
		backoff: backoff.withDefaults(),
		log:     log,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   sleepCtx,
	}
}

// Report enqueues a status update, retrying transport errors with backoff. The last
// error is returned once retries are exhausted; callers log and drop it.
func (r *Reporter) Report(ctx context.Context, jobID string, st jobs.Status) error {
	body, err := json.Marshal(jobs.StatusUpdate{JobID: jobID, Status: st, At: r.now().UTC()})
	if err != nil {
		return err
	}
	msg := queue.Message{
		PartitionKey: StatusPartition,
		DedupKey:     jobs.StatusDedupKey(jobID, st),
		Body:         body,
	}
	for attempt := 0; ; attempt++ {
		err = r.ch.Enqueue(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt >= r.retries || ctx.Err() != nil {
			return fmt.Errorf("report %s for %s: %w", st, jobID, err)
		}
		r.mu.Lock()
		d := r.backoff.Delay(attempt+1, r.rng)
		r.mu.Unlock()
		r.log.Debug("status report retry scheduled",
			logx.String("job_id", jobID), logx.String("status", st.String()),
			logx.Int("attempt", attempt+1), logx.Duration("delay", d), logx.Err(err))
		if serr := r.sleep(ctx, d); serr != nil {
			return fmt.Errorf("report %s for %s: %w", st, jobID, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
