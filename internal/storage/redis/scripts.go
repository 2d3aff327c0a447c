package redis

const (
	// createAppScript inserts an app hash only when it does not exist yet
	createAppScript = `
local app_key = KEYS[1]     -- appwarden:app:{appID}
local apps_set = KEYS[2]    -- appwarden:apps

if redis.call('EXISTS', app_key) == 1 then
  return 0
end

redis.call('HSET', app_key, unpack(ARGV))
redis.call('SADD', apps_set, ARGV[2])

return 1
`

	// updateAppScript writes field/value pairs to an existing app hash.
	// Returns 0 when the app does not exist so callers can map it to ErrNotFound.
	updateAppScript = `
local app_key = KEYS[1]     -- appwarden:app:{appID}

if redis.call('EXISTS', app_key) == 0 then
  return 0
end

redis.call('HSET', app_key, unpack(ARGV))

return 1
`

	// updateUsageScript sets daily usage and only moves last_interact_time forward
	updateUsageScript = `
local app_key = KEYS[1]     -- appwarden:app:{appID}

local usage_ms = ARGV[1]
local at = tonumber(ARGV[2])

if redis.call('EXISTS', app_key) == 0 then
  return 0
end

redis.call('HSET', app_key, 'daily_usage_ms', usage_ms)

local last = tonumber(redis.call('HGET', app_key, 'last_interact_time') or '0')
if at > last then
  redis.call('HSET', app_key, 'last_interact_time', ARGV[2])
end

return 1
`

	// resetDailyScript clears usage and session fields for every known app
	resetDailyScript = `
local apps_set = KEYS[1]    -- appwarden:apps
local prefix = ARGV[1]      -- appwarden:app:

local ids = redis.call('SMEMBERS', apps_set)
local count = 0

for _, id in ipairs(ids) do
  local app_key = prefix .. id
  if redis.call('EXISTS', app_key) == 1 then
    redis.call('HSET', app_key,
      'daily_usage_ms', '0',
      'session_state', 'IDLE',
      'session_start_time', '0',
      'selected_session_duration_ms', '0',
      'remaining_session_time_ms', '0',
      'last_paused_time', '0'
    )
    count = count + 1
  else
    redis.call('SREM', apps_set, id)
  end
end

return count
`
)
