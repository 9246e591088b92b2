package redis

const (
	// recordSubmissionScript atomically stores a submission, indexes it by finish time
	// and trims the history to the configured size
	recordSubmissionScript = `
local record_key = KEYS[1]      -- rovas:submission:{id}
local index_key = KEYS[2]       -- rovas:submissions

local id = ARGV[1]
local score = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local prefix = ARGV[4]

-- Remaining arguments are field/value pairs
redis.call('DEL', record_key)
redis.call('HSET', record_key, unpack(ARGV, 5))
redis.call('ZADD', index_key, score, id)

-- Drop the oldest records beyond the limit
local count = redis.call('ZCARD', index_key)
if count > limit then
  local excess = count - limit
  local old = redis.call('ZRANGE', index_key, 0, excess - 1)
  for _, old_id in ipairs(old) do
    redis.call('DEL', prefix .. old_id)
  end
  redis.call('ZREMRANGEBYRANK', index_key, 0, excess - 1)
end

return count
`

	// deleteSubmissionsBeforeScript removes records that finished before a cutoff score
	deleteSubmissionsBeforeScript = `
local index_key = KEYS[1]       -- rovas:submissions

local cutoff = ARGV[1]
local prefix = ARGV[2]

local old = redis.call('ZRANGEBYSCORE', index_key, '-inf', '(' .. cutoff)
for _, old_id in ipairs(old) do
  redis.call('DEL', prefix .. old_id)
end
redis.call('ZREMRANGEBYSCORE', index_key, '-inf', '(' .. cutoff)

return #old
`
)
