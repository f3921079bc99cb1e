// Package seckill admits flash-sale orders in Redis and persists them
// asynchronously.
//
// Admission runs one Lua script that checks the sale window, the user's
// previous purchase and the remaining stock, then reserves a unit and appends
// the order to a Redis stream in the same atomic step. The relational store is
// never touched on the request path.
//
// A Consumer reads the stream through a consumer group and writes each order
// inside a transaction guarded by a per-user lock. Entries that were delivered
// but not acknowledged, for instance because the process crashed, are picked
// up again from the group's pending list.
package seckill
