package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript is the Redis rendition of Take. Timestamps travel as unix
// seconds plus nanoseconds so the elapsed time is computed the same way
// time.Duration.Seconds does; a single numeric timestamp would not fit a Lua
// double at nanosecond precision.
var takeScript = redis.NewScript(`
local burst = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now_s = tonumber(ARGV[3])
local now_n = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts', 'tsn')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
local tsn = tonumber(state[3]) or 0
if tokens == nil or ts == nil then
  tokens = burst
  ts = now_s
  tsn = now_n
end
local ds = now_s - ts
local dn = now_n - tsn
if dn < 0 then
  ds = ds - 1
  dn = dn + 1000000000
end
if ds > 0 or (ds == 0 and dn > 0) then
  tokens = math.min(burst, tokens + (ds + dn / 1e9) * rate)
  ts = now_s
  tsn = now_n
end
if tokens > burst then tokens = burst end
if tokens < 0 then tokens = 0 end
local allowed = 0
if tokens >= 1 - 1e-6 then
  tokens = tokens - 1
  if tokens < 0 then tokens = 0 end
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts), 'tsn', tostring(tsn))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens)}
`)

// RedisStore shares buckets across gateway instances. The whole
// check-refill-deduct sequence runs as one server-side script.
type RedisStore struct {
	client redis.Scripter
	prefix string
}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, p Policy, now time.Time) (Decision, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key},
		strconv.FormatFloat(p.Burst, 'f', -1, 64),
		strconv.FormatFloat(p.RefillPerSecond, 'f', -1, 64),
		now.Unix(),
		now.Nanosecond(),
		p.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}
	allowed, _ := res[0].(int64)
	tokensStr, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: parse tokens %q: %v", ErrStoreUnavailable, tokensStr, err)
	}
	d := Decision{Allowed: allowed == 1, Remaining: tokens}
	if !d.Allowed {
		d.RetryAfter = retryAfter(tokens, p)
	}
	return d, nil
}

var _ Store = (*RedisStore)(nil)
