package reservation

import "github.com/redis/go-redis/v9"

// Every script takes the per-symbol keys in the same order:
// KEYS[1] long, KEYS[2] short, KEYS[3] tokens, KEYS[4] expiry, KEYS[5] confirmed.
// long and short hold the pending buy and sell quantities, both >= 0. The
// token hash keeps the signed delta, so its sign names the side to give back.
// Timestamps are unix milliseconds supplied by the caller.

const helpersLua = `
local function unreserve(delta)
  delta = tonumber(delta)
  if delta > 0 then
    redis.call('DECRBY', KEYS[1], delta)
  else
    redis.call('DECRBY', KEYS[2], -delta)
  end
end

local function reclaim(now)
  local expired = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', now)
  local count = 0
  for _, id in ipairs(expired) do
    local delta = redis.call('HGET', KEYS[3], id)
    if delta then
      unreserve(delta)
      redis.call('HDEL', KEYS[3], id)
      count = count + 1
    end
    redis.call('ZREM', KEYS[4], id)
  end
  return count
end

local function num(key)
  return tonumber(redis.call('GET', key) or '0')
end
`

var (
	// ARGV: delta, limit, now, expires at, token id.
	// Returns {ok, long, short, confirmed, reclaimed}.
	//
	// A buy is admitted while confirmed + long stays within the limit and a
	// sell while confirmed - short does, so every combination of pending
	// orders filling keeps |position| <= limit.
	reserveScript = redis.NewScript(helpersLua + `
local reclaimed = reclaim(ARGV[3])
local long, short, confirmed = num(KEYS[1]), num(KEYS[2]), num(KEYS[5])
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

if delta > 0 then
  if confirmed + long + delta > limit then
    return {0, long, short, confirmed, reclaimed}
  end
  long = redis.call('INCRBY', KEYS[1], delta)
else
  if confirmed - short + delta < -limit then
    return {0, long, short, confirmed, reclaimed}
  end
  short = redis.call('INCRBY', KEYS[2], -delta)
end

redis.call('HSET', KEYS[3], ARGV[5], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[5])
return {1, long, short, confirmed, reclaimed}
`)

	// ARGV: token id, now. Returns {status, delta}; status 1 committed,
	// -1 unknown token, -2 expired (delta reclaimed).
	commitScript = redis.NewScript(helpersLua + `
local delta = redis.call('HGET', KEYS[3], ARGV[1])
if not delta then
  redis.call('ZREM', KEYS[4], ARGV[1])
  return {-1, 0}
end
local expiresAt = redis.call('ZSCORE', KEYS[4], ARGV[1])
unreserve(delta)
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
if expiresAt and tonumber(expiresAt) <= tonumber(ARGV[2]) then
  return {-2, tonumber(delta)}
end
redis.call('INCRBY', KEYS[5], delta)
return {1, tonumber(delta)}
`)

	// ARGV: token id. Returns {released, delta}.
	releaseScript = redis.NewScript(helpersLua + `
local delta = redis.call('HGET', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
if not delta then
  return {0, 0}
end
unreserve(delta)
redis.call('HDEL', KEYS[3], ARGV[1])
return {1, tonumber(delta)}
`)

	// ARGV: now. Returns {reclaimed, long, short}.
	reclaimScript = redis.NewScript(helpersLua + `
local reclaimed = reclaim(ARGV[1])
return {reclaimed, num(KEYS[1]), num(KEYS[2])}
`)

	allScripts = []*redis.Script{reserveScript, commitScript, releaseScript, reclaimScript}
)
