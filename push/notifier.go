package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/bus"
)

type Job struct {
	Origin  actor.Key `json:"origin"`
	Payload Payload   `json:"payload"`
}

// Queue moves fan-out off the request path.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Notifier is the bus subscriber for push. Without a queue it fans out on
// the publishing goroutine.
type Notifier struct {
	d       *Dispatcher
	q       Queue
	url     string
	timeout time.Duration
}

func NewNotifier(d *Dispatcher, q Queue, url string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{d: d, q: q, url: url, timeout: timeout}
}

func (n *Notifier) Handle(ctx context.Context, ev bus.Event) error {
	if !n.d.Enabled() {
		return nil
	}
	// A client disconnecting mid-request must not cancel the fan-out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	job := Job{Origin: ev.Origin.Key(), Payload: PayloadFor(ev, n.url)}
	if n.q != nil {
		return n.q.Enqueue(ctx, job)
	}
	return n.d.BroadcastExcept(ctx, job.Origin, job.Payload)
}

// RedisQueue is a redis list of jobs consumed by Run.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "portalchat:push"
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, data).Err()
}

// Run consumes jobs until ctx is done.
func (q *RedisQueue) Run(ctx context.Context, d *Dispatcher) {
	log := zap.S().With("method", "pushQueue", "key", q.key)
	log.Info("start")
	for {
		res, err := q.rdb.BRPop(ctx, time.Second, q.key).Result()
		if ctx.Err() != nil {
			log.Info("stop")
			return
		}
		if err == redis.Nil {
			continue
		}
		if err != nil {
			log.Error("redis brpop:", err)
			time.Sleep(time.Second)
			continue
		}
		job := Job{}
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Error("json unmarshal job:", err)
			continue
		}
		if err := q.handle(ctx, d, job); err != nil {
			log.Error("broadcast:", err)
		}
	}
}

func (q *RedisQueue) handle(ctx context.Context, d *Dispatcher, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.BroadcastExcept(ctx, job.Origin, job.Payload)
}
