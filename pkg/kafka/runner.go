package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"om-smart-go/internal/model"
	"om-smart-go/pkg/log"
	"om-smart-go/pkg/tasks"
)

// TaskProcessor 是某条 lane 上实际干活的处理器。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.PipelineTask) error
	// MarkFailed 在重试耗尽或遇到不可重试错误后，把实体置为 failed。
	MarkFailed(ctx context.Context, task tasks.PipelineTask, cause error)
}

// JobTracker 记录 pipeline_jobs 上的尝试次数和终态。
type JobTracker interface {
	StartAttempt(ctx context.Context, id uint) error
	RecordError(ctx context.Context, id uint, detail string) error
	Finish(ctx context.Context, id uint, status model.Status, detail *string) error
	// Heartbeat 刷新任务的 updated_at，定时恢复只重新投递长时间没有心跳的任务。
	Heartbeat(ctx context.Context, id uint) error
}

// Locker 防止同一个任务被两个消费者同时处理（例如恢复时重复投递）。
// 锁带 owner，只有持有者能续期和释放；持有者崩溃后锁在 ttl 内过期。
type Locker interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string)
}

// Runner 在进程内对单个任务做有限次重试，第 n 次失败后等待 backoff*n。
type Runner struct {
	processor   TaskProcessor
	jobs        JobTracker
	locker      Locker
	maxAttempts int
	backoff     time.Duration
	lockTTL     time.Duration
	lockRetry   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type RunnerOption func(*Runner)

func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) { r.backoff = d }
}

func WithLocker(l Locker) RunnerOption {
	return func(r *Runner) { r.locker = l }
}

// WithLockTTL 设置任务锁的过期时间，处理期间每 ttl/3 续期一次。
func WithLockTTL(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.lockTTL = d
		}
	}
}

// NewRunner 创建 Runner，默认 3 次尝试，退避 2s。
func NewRunner(processor TaskProcessor, jobs JobTracker, opts ...RunnerOption) *Runner {
	r := &Runner{
		processor:   processor,
		jobs:        jobs,
		maxAttempts: 3,
		backoff:     2 * time.Second,
		lockTTL:     90 * time.Second,
		lockRetry:   10 * time.Second,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 处理一个任务直到成功、遇到不可重试的错误或尝试次数耗尽。
func (r *Runner) Run(ctx context.Context, task tasks.PipelineTask) {
	var key, owner string
	if r.locker != nil {
		key, owner = fmt.Sprintf("om:job:lock:%s:%s", task.Lane, task.EntityID), uuid.NewString()
		ok, err := r.acquire(ctx, key, owner)
		switch {
		case err != nil:
			// 锁服务不可用时继续处理，实体状态的条件更新仍能挡住重复执行
			log.Warnf("[Consumer] 获取任务锁失败, key=%s, err=%v", key, err)
			key = ""
		case !ok:
			log.Infof("[Consumer] 任务锁一直由其他消费者续期, 交给持有者处理: %s", key)
			return
		default:
			defer r.locker.Release(context.WithoutCancel(ctx), key, owner)
		}
	}
	stop := r.heartbeat(ctx, task, key, owner)
	defer stop()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		r.track(func() error { return r.jobs.StartAttempt(ctx, task.JobID) })

		lastErr = r.processor.Process(ctx, task)
		if lastErr == nil {
			log.Infof("[Consumer] 任务处理成功: lane=%s, entity=%s, attempt=%d", task.Lane, task.EntityID, attempt)
			r.track(func() error { return r.jobs.Finish(ctx, task.JobID, model.StatusCompleted, nil) })
			return
		}

		log.Warnw("[Consumer] 任务处理失败",
			"lane", task.Lane, "entity", task.EntityID, "attempt", attempt, "max_attempts", r.maxAttempts,
			"retryable", model.IsRetryable(lastErr), "error", lastErr)
		r.track(func() error { return r.jobs.RecordError(ctx, task.JobID, lastErr.Error()) })

		if !model.IsRetryable(lastErr) || attempt == r.maxAttempts {
			break
		}
		if err := r.sleep(ctx, r.backoff*time.Duration(attempt)); err != nil {
			// 进程退出，任务保持 processing，重启后由恢复流程重新投递
			log.Warnf("[Consumer] 等待重试时退出: entity=%s", task.EntityID)
			return
		}
	}

	log.Errorw("[Consumer] 任务进入 failed", "lane", task.Lane, "entity", task.EntityID, "error", lastErr)
	r.processor.MarkFailed(ctx, task, lastErr)
	detail := lastErr.Error()
	r.track(func() error { return r.jobs.Finish(ctx, task.JobID, model.StatusFailed, &detail) })
}

// acquire 抢锁失败时每 lockRetry 重试一次，最多等一个 lockTTL。
// 崩溃进程留下的锁在这段时间内必然过期；仍然拿不到说明持有者还活着并在续期。
func (r *Runner) acquire(ctx context.Context, key, owner string) (bool, error) {
	for waited := time.Duration(0); ; waited += r.lockRetry {
		ok, err := r.locker.Acquire(ctx, key, owner, r.lockTTL)
		if err != nil || ok {
			return ok, err
		}
		if waited >= r.lockTTL {
			return false, nil
		}
		log.Infof("[Consumer] 任务锁被占用, %s 后重试: %s", r.lockRetry, key)
		if err := r.sleep(ctx, r.lockRetry); err != nil {
			return false, nil
		}
	}
}

// heartbeat 在任务处理期间续期任务锁并刷新 pipeline_jobs 的心跳，返回的 stop 会等待协程退出。
func (r *Runner) heartbeat(ctx context.Context, task tasks.PipelineTask, key, owner string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if key != "" {
					ok, err := r.locker.Refresh(hbCtx, key, owner, r.lockTTL)
					if err == nil && !ok {
						log.Warnf("[Consumer] 任务锁已丢失: %s", key)
					}
				}
				r.track(func() error { return r.jobs.Heartbeat(hbCtx, task.JobID) })
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (r *Runner) track(fn func() error) {
	if r.jobs == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warnf("[Consumer] 更新 pipeline_jobs 失败: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// 只有 value 等于 owner 时才续期或删除，避免误删别人的锁。
var (
	refreshScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`)
	releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`)
)

// RedisLocker 基于 SET NX PX 的任务锁，value 为持有者 token。
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, owner, ttl).Result()
}

func (l *RedisLocker) Refresh(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, l.rdb, []string{key}, owner, ttl.Milliseconds()).Int()
	return n == 1, err
}

func (l *RedisLocker) Release(ctx context.Context, key, owner string) {
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err(); err != nil && err != redis.Nil {
		log.Warnf("[Consumer] 释放任务锁失败, key=%s, err=%v", key, err)
	}
}
