package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	logx "inquisitor/pkg/logx"
)

// Key layout under prefix:
//
//	seq             INCR counter
//	msgs            HASH id -> payload
//	partitions      ZSET partition -> seq of the enqueue that created it
//	p:<partition>   LIST of ids in enqueue order
//	lock:<part>     receipt token of the in-flight head prefix (PX = visibility)
//	held:<part>     number of in-flight ids under the lock
//	dedup:<key>     dedup marker (PX = dedup window)
//
// Keys are derived inside the scripts, so the driver assumes a single Redis node.

var redisEnqueue = redis.NewScript(`
local prefix = ARGV[1]
local part = ARGV[2]
local dedup = ARGV[3]
if dedup ~= '' then
  if not redis.call('SET', prefix .. 'dedup:' .. dedup, '1', 'NX', 'PX', ARGV[4]) then
    return 0
  end
end
local seq = redis.call('INCR', prefix .. 'seq')
local id = tostring(seq)
redis.call('HSET', prefix .. 'msgs', id, ARGV[5])
redis.call('RPUSH', prefix .. 'p:' .. part, id)
redis.call('ZADD', prefix .. 'partitions', 'NX', seq, part)
return 1
`)

var redisReceive = redis.NewScript(`
local prefix = ARGV[1]
local max = tonumber(ARGV[2])
local vis = ARGV[3]
local token = ARGV[4]
local out = {}
local parts = redis.call('ZRANGE', prefix .. 'partitions', 0, -1)
for _, p in ipairs(parts) do
  if max <= 0 then break end
  local lock = prefix .. 'lock:' .. p
  if redis.call('SET', lock, token, 'NX', 'PX', vis) then
    local ids = redis.call('LRANGE', prefix .. 'p:' .. p, 0, max - 1)
    if #ids == 0 then
      redis.call('DEL', lock)
      redis.call('ZREM', prefix .. 'partitions', p)
    else
      redis.call('SET', prefix .. 'held:' .. p, tostring(#ids), 'PX', vis)
      for _, id in ipairs(ids) do
        local payload = redis.call('HGET', prefix .. 'msgs', id)
        if not payload then payload = '' end
        table.insert(out, p)
        table.insert(out, id)
        table.insert(out, payload)
      end
      max = max - #ids
    end
  end
end
return out
`)

var redisAck = redis.NewScript(`
local prefix = ARGV[1]
local p = ARGV[2]
local lock = prefix .. 'lock:' .. p
if redis.call('GET', lock) ~= ARGV[3] then
  return 0
end
if redis.call('LREM', prefix .. 'p:' .. p, 1, ARGV[4]) == 0 then
  return 0
end
redis.call('HDEL', prefix .. 'msgs', ARGV[4])
local left = redis.call('DECR', prefix .. 'held:' .. p)
if left <= 0 then
  redis.call('DEL', lock, prefix .. 'held:' .. p)
  if redis.call('LLEN', prefix .. 'p:' .. p) == 0 then
    redis.call('ZREM', prefix .. 'partitions', p)
  end
end
return 1
`)

type redisPayload struct {
	Body       []byte `json:"body"`
	Attempt    int    `json:"attempt"`
	DedupKey   string `json:"dedup,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

type redisChannel struct {
	client redis.Cmdable
	owned  *redis.Client
	prefix string
	vis    time.Duration
	window time.Duration
	log    logx.Logger
	now    func() time.Time
}

var _ Channel = (*redisChannel)(nil)

func openRedis(cfg Config, name string, log logx.Logger) (Channel, error) {
	rc := cfg.Redis
	c := &redisChannel{
		client: rc.Client,
		vis:    cfg.Visibility,
		window: cfg.DedupWindow,
		log:    log,
		now:    time.Now,
	}
	if c.client == nil {
		if strings.TrimSpace(rc.Addr) == "" {
			return nil, errors.New("queue: redis addr is required")
		}
		cl := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})
		c.client = cl
		c.owned = cl
	}
	prefix := strings.TrimSpace(rc.Prefix)
	if prefix == "" {
		prefix = "inquisitor"
	}
	c.prefix = prefix + ":" + name + ":"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("queue/redis: ping: %w", err)
	}
	return c, nil
}

func (c *redisChannel) Enqueue(ctx context.Context, m Message) error {
	payload, err := json.Marshal(redisPayload{
		Body:       m.Body,
		Attempt:    m.Attempt,
		DedupKey:   m.DedupKey,
		EnqueuedAt: c.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	n, err := redisEnqueue.Run(ctx, c.client, nil,
		c.prefix, m.PartitionKey, m.DedupKey, c.window.Milliseconds(), string(payload)).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: enqueue: %w", err)
	}
	if n == 0 {
		c.log.Trace("duplicate suppressed", logx.String("dedup", m.DedupKey))
	}
	return nil
}

func (c *redisChannel) Receive(ctx context.Context, max int) ([]Envelope, error) {
	if max <= 0 {
		max = 1
	}
	token := uuid.NewString()
	flat, err := redisReceive.Run(ctx, c.client, nil,
		c.prefix, max, c.vis.Milliseconds(), token).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: receive: %w", err)
	}
	now := c.now()
	out := make([]Envelope, 0, len(flat)/3)
	for i := 0; i+2 < len(flat); i += 3 {
		part, id, raw := flat[i], flat[i+1], flat[i+2]
		var p redisPayload
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				c.log.Warn("undecodable payload", logx.String("id", id), logx.Err(err))
			}
		}
		out = append(out, Envelope{
			Message: Message{
				PartitionKey: part,
				DedupKey:     p.DedupKey,
				Body:         p.Body,
				Attempt:      p.Attempt,
			},
			Receipt:    token + "/" + id,
			ReceivedAt: now,
		})
	}
	return out, nil
}

func (c *redisChannel) Ack(ctx context.Context, env Envelope) error {
	i := strings.LastIndex(env.Receipt, "/")
	if i <= 0 || i == len(env.Receipt)-1 {
		return ErrUnknownReceipt
	}
	token, id := env.Receipt[:i], env.Receipt[i+1:]
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return ErrUnknownReceipt
	}
	n, err := redisAck.Run(ctx, c.client, nil, c.prefix, env.PartitionKey, token, id).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: ack: %w", err)
	}
	if n == 0 {
		return ErrUnknownReceipt
	}
	return nil
}

func (c *redisChannel) Close() error {
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}
