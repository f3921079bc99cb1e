package seckill

import redis "github.com/redis/go-redis/v9"

// Result codes of admitScript.
const (
	codeOK         = 0
	codeOutOfStock = 1
	codeDuplicate  = 2
	codeNotStarted = 3
	codeEnded      = 4
	codeNoVoucher  = 5
)

// KEYS: voucher hash, order set, order stream.
// ARGV: voucher id, user id, order id, now in unix ms.
// A hash missing any field counts as an unknown voucher.
var admitScript = redis.NewScript(`
local v = redis.call('hmget', KEYS[1], 'stock', 'begin', 'end')
local stock, b, e = tonumber(v[1] or ''), tonumber(v[2] or ''), tonumber(v[3] or '')
if not stock or not b or not e then
    return 5
end
local now = tonumber(ARGV[4])
if now < b then
    return 3
end
if now > e then
    return 4
end
if redis.call('sismember', KEYS[2], ARGV[2]) == 1 then
    return 2
end
if stock <= 0 then
    return 1
end
redis.call('hincrby', KEYS[1], 'stock', -1)
redis.call('sadd', KEYS[2], ARGV[2])
redis.call('xadd', KEYS[3], '*', 'id', ARGV[3], 'userId', ARGV[2], 'voucherId', ARGV[1], 'createdAt', ARGV[4])
return 0
`)
