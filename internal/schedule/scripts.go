package schedule

import "github.com/redis/rueidis"

// Every script mutates the entry and appends its change event in one atomic step,
// so the change stream never disagrees with the stored entries.
//
// Change stream entry layout:
//   kind <INSERT|MODIFY|REMOVE> scheduled_id <id> [old.<field> <value>]... [new.<field> <value>]...

// emitLua is shared by all scripts. It appends one change event built from
// flat HGETALL-style field lists.
const emitLua = `
local function emit(stream, maxlen, kind, sid, old, new)
  local args = {'XADD', stream, 'MAXLEN', '~', maxlen, '*', 'kind', kind, 'scheduled_id', sid}
  if old then
    for i = 1, #old, 2 do
      table.insert(args, 'old.' .. old[i])
      table.insert(args, old[i + 1])
    end
  end
  if new then
    for i = 1, #new, 2 do
      table.insert(args, 'new.' .. new[i])
      table.insert(args, new[i + 1])
    end
  end
  return redis.call(unpack(args))
end

local function field(fields, name)
  for i = 1, #fields, 2 do
    if fields[i] == name then
      return fields[i + 1]
    end
  end
  return nil
end

local function remove(entryPrefix, reminderPrefix, streamPrefix, due, maxlen, sid, annotation)
  local key = entryPrefix .. sid
  local old = redis.call('HGETALL', key)
  redis.call('ZREM', due, sid)
  if #old == 0 then
    return false
  end
  redis.call('DEL', key)
  local rid = field(old, 'reminder_id')
  if rid and redis.call('GET', reminderPrefix .. rid) == sid then
    redis.call('DEL', reminderPrefix .. rid)
  end
  if annotation then
    for i = 1, #annotation do
      table.insert(old, annotation[i])
    end
  end
  emit(streamPrefix .. field(old, 'partition'), maxlen, 'REMOVE', sid, old, nil)
  return true
end
`

// scheduleScript supersedes the reminder's live entry, if any, then inserts the new one.
//
// KEYS[1] due set, KEYS[2] new entry, KEYS[3] reminder pointer, KEYS[4] new entry's stream
// ARGV[1] scheduled_id, ARGV[2] reminder_id, ARGV[3] schedule_at ms, ARGV[4] partition,
// ARGV[5] now ms, ARGV[6] stream maxlen, ARGV[7] entry prefix, ARGV[8] reminder prefix,
// ARGV[9] stream prefix
var scheduleScript = rueidis.NewLuaScript(emitLua + `
local due, key, pointer, stream = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
local sid, rid, at, partition, now, maxlen = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6]

local prev = redis.call('GET', pointer)
if prev and prev ~= sid then
  remove(ARGV[7], ARGV[8], ARGV[9], due, maxlen, prev,
    {'cancelled_at', now, 'cancel_reason', 'superseded'})
end

local fields = {
  'scheduled_id', sid,
  'reminder_id', rid,
  'schedule_at', at,
  'partition', partition,
  'created_at', now,
}
redis.call('HSET', key, unpack(fields))
redis.call('ZADD', due, at, sid)
redis.call('SET', pointer, sid)
emit(stream, maxlen, 'INSERT', sid, nil, fields)
return prev or ''
`)

// cancelScript removes a live entry with a cancellation annotation.
// Returns 1 when removed, 0 when the entry was already gone.
//
// KEYS[1] due set
// ARGV[1] scheduled_id, ARGV[2] now ms, ARGV[3] reason, ARGV[4] stream maxlen,
// ARGV[5] entry prefix, ARGV[6] reminder prefix, ARGV[7] stream prefix
var cancelScript = rueidis.NewLuaScript(emitLua + `
local removed = remove(ARGV[5], ARGV[6], ARGV[7], KEYS[1], ARGV[4], ARGV[1],
  {'cancelled_at', ARGV[2], 'cancel_reason', ARGV[3]})
if removed then
  return 1
end
return 0
`)

// reapScript removes up to ARGV[2] entries due at or before ARGV[1] without annotation.
// Returns the number of entries removed.
//
// KEYS[1] due set
// ARGV[1] now ms, ARGV[2] limit, ARGV[3] stream maxlen, ARGV[4] entry prefix,
// ARGV[5] reminder prefix, ARGV[6] stream prefix
var reapScript = rueidis.NewLuaScript(emitLua + `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local count = 0
for _, sid in ipairs(ids) do
  if remove(ARGV[4], ARGV[5], ARGV[6], KEYS[1], ARGV[3], sid, nil) then
    count = count + 1
  end
end
return count
`)
