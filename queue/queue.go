// Package queue implements the durable job queue and worker pool of
// spec.md §4.3: at-least-once delivery of (runId) to a worker, persisted
// before execution, bounded concurrency, attempt caps and exponential
// backoff — backed by Redis (QUEUE_REDIS_URL, spec.md §6), the teacher's
// own (indirect) go-redis dependency promoted to a direct one here.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"

	"github.com/zecflow/core/zecflog"
	"github.com/zecflow/core/zerrs"
)

const (
	keyReady      = "zecflow:queue:ready"
	keyDelayed    = "zecflow:queue:delayed"
	keyProcessing = "zecflow:queue:processing"
	keyJobPrefix  = "zecflow:queue:job:"
)

// Options configure one enqueued job, spec.md §4.3 "Enqueue(runId,
// options?)".
type Options struct {
	DelayMs           int64
	Attempts          int           // attempt cap, default 5
	BackoffBase       time.Duration // default 5s
	BackoffFactor     float64       // default 2
	VisibilityTimeout time.Duration // defaulted to 5m but not stored on the job: claimAndRun always keeps a claimed job invisible for 5m
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 2
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 5 * time.Minute
	}
	return o
}

type job struct {
	ID            string  `json:"id"`
	RunID         string  `json:"runId"`
	Attempts      int     `json:"attempts"`
	MaxAttempts   int     `json:"maxAttempts"`
	BackoffBaseMs int64   `json:"backoffBaseMs"`
	BackoffFactor float64 `json:"backoffFactor"`
	CreatedAt     int64   `json:"createdAt"`
}

// MetricsRecorder is the narrow subset of metrics.Metrics the queue
// reports through; a nil Metrics field on Queue disables it.
type MetricsRecorder interface {
	IncQueueRetry()
}

// Queue is the Redis-backed durable job queue.
type Queue struct {
	rdb     *redis.Client
	log     *zecflog.Logger
	Metrics MetricsRecorder
}

// New wraps an already-configured Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, log: zecflog.Root().With("component", "queue")}
}

// Depth reports how many jobs sit in each of the queue's three Redis
// structures, sampled lazily by metrics.Metrics at scrape time.
func (q *Queue) Depth(ctx context.Context) (ready, delayed, processing int64, err error) {
	client := q.rdb.WithContext(ctx)
	ready, err = client.LLen(keyReady).Result()
	if err != nil {
		return 0, 0, 0, err
	}
	delayed, err = client.ZCard(keyDelayed).Result()
	if err != nil {
		return 0, 0, 0, err
	}
	processing, err = client.ZCard(keyProcessing).Result()
	if err != nil {
		return 0, 0, 0, err
	}
	return ready, delayed, processing, nil
}

// Enqueue persists a (runId) job and makes it claimable, spec.md §4.3.
func (q *Queue) Enqueue(ctx context.Context, runID string, opts Options) (string, error) {
	opts = opts.withDefaults()
	j := job{
		ID:            uuid.NewString(),
		RunID:         runID,
		MaxAttempts:   opts.Attempts,
		BackoffBaseMs: opts.BackoffBase.Milliseconds(),
		BackoffFactor: opts.BackoffFactor,
		CreatedAt:     time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	client := q.rdb.WithContext(ctx)
	if err := client.Set(keyJobPrefix+j.ID, raw, 0).Err(); err != nil {
		return "", fmt.Errorf("persist job %s: %w", j.ID, err)
	}

	if opts.DelayMs > 0 {
		readyAt := time.Now().Add(time.Duration(opts.DelayMs) * time.Millisecond).UnixMilli()
		if err := client.ZAdd(keyDelayed, redis.Z{Score: float64(readyAt), Member: j.ID}).Err(); err != nil {
			return "", fmt.Errorf("schedule delayed job %s: %w", j.ID, err)
		}
		return j.ID, nil
	}
	if err := client.LPush(keyReady, j.ID).Err(); err != nil {
		return "", fmt.Errorf("push ready job %s: %w", j.ID, err)
	}
	return j.ID, nil
}

// Handler executes one run and reports a structured, classifiable error.
type Handler func(ctx context.Context, runID string) error

// StartWorker launches concurrency workers (default 5, spec.md §4.3) plus
// one background reaper that promotes due delayed jobs and reclaims jobs
// whose visibility timeout expired without an ack (a crashed worker).
// It blocks until ctx is cancelled, then drains in-flight work before
// returning.
func (q *Queue) StartWorker(ctx context.Context, concurrency int, handle Handler) {
	if concurrency <= 0 {
		concurrency = 5
	}

	done := make(chan struct{})
	go q.reap(ctx, done)

	workerDone := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func(id int) {
			defer func() { workerDone <- struct{}{} }()
			q.runWorker(ctx, id, handle)
		}(i)
	}
	for i := 0; i < concurrency; i++ {
		<-workerDone
	}
	close(done)
}

func (q *Queue) runWorker(ctx context.Context, id int, handle Handler) {
	log := q.log.With("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client := q.rdb.WithContext(ctx)
		res, err := client.BRPop(2*time.Second, keyReady).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("brpop failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		jobID := res[1]
		q.claimAndRun(ctx, jobID, handle, log)
	}
}

func (q *Queue) claimAndRun(ctx context.Context, jobID string, handle Handler, log *zecflog.Logger) {
	client := q.rdb.WithContext(ctx)

	raw, err := client.Get(keyJobPrefix + jobID).Result()
	if err == redis.Nil {
		log.Warn("claimed job has no metadata, dropping", "jobId", jobID)
		return
	}
	if err != nil {
		log.Error("load job metadata failed", "jobId", jobID, "err", err)
		return
	}
	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		log.Error("decode job metadata failed", "jobId", jobID, "err", err)
		return
	}

	visibleUntil := time.Now().Add(5 * time.Minute).UnixMilli()
	client.ZAdd(keyProcessing, redis.Z{Score: float64(visibleUntil), Member: jobID})

	runErr := handle(ctx, j.RunID)

	client.ZRem(keyProcessing, jobID)

	if runErr == nil {
		client.Del(keyJobPrefix + jobID)
		return
	}

	if !zerrs.Retryable(runErr) {
		log.Error("run failed fatally, not retrying", "runId", j.RunID, "jobId", jobID, "err", runErr)
		client.Del(keyJobPrefix + jobID)
		return
	}

	j.Attempts++
	if j.Attempts >= j.MaxAttempts {
		log.Error("run exhausted retry attempts", "runId", j.RunID, "jobId", jobID, "attempts", j.Attempts)
		client.Del(keyJobPrefix + jobID)
		return
	}

	delay := backoffDelay(j.BackoffBaseMs, j.BackoffFactor, j.Attempts)
	log.Warn("run failed, retrying with backoff", "runId", j.RunID, "jobId", jobID, "attempt", j.Attempts, "delayMs", delay.Milliseconds())
	if q.Metrics != nil {
		q.Metrics.IncQueueRetry()
	}

	raw2, _ := json.Marshal(j)
	client.Set(keyJobPrefix+jobID, raw2, 0)
	client.ZAdd(keyDelayed, redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: jobID})
}

// backoffDelay computes base * factor^(attempt-1), matching spec.md §4.3
// "exponential, base 5s, factor 2" and the testable property in spec.md
// §8 ("backoff delay >= 5s * 2^(attempt-1)").
func backoffDelay(baseMs int64, factor float64, attempt int) time.Duration {
	mult := math.Pow(factor, float64(attempt-1))
	return time.Duration(float64(baseMs)*mult) * time.Millisecond
}

// reap promotes delayed jobs whose readyAt has passed into the ready
// list, and reclaims processing jobs whose visibility timeout expired
// without an ack — the crash-recovery path that makes delivery
// at-least-once rather than at-most-once.
func (q *Queue) reap(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			q.promoteDelayed(ctx)
			q.reclaimExpired(ctx)
		}
	}
}

func (q *Queue) promoteDelayed(ctx context.Context) {
	client := q.rdb.WithContext(ctx)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := client.ZRangeByScore(keyDelayed, redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		client.ZRem(keyDelayed, id)
		client.LPush(keyReady, id)
	}
}

func (q *Queue) reclaimExpired(ctx context.Context) {
	client := q.rdb.WithContext(ctx)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := client.ZRangeByScore(keyProcessing, redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		client.ZRem(keyProcessing, id)
		client.LPush(keyReady, id)
	}
}
