// Package cache implements a Redis read-through cache hardened against the
// three classic failure modes of a shared cache:
//
//   - penetration: ids unknown to the loader are remembered with an empty
//     marker for a short time, so repeated misses never reach the database;
//   - stampede on a cold key: QueryWithMutex lets a single caller rebuild a
//     missing key while the others poll;
//   - stampede on a hot key: QueryWithLogicalExpiry never lets a warmed key
//     disappear and refreshes stale entries on a background worker pool while
//     readers keep receiving the previous value.
//
// An optional ristretto near cache can sit in front of Redis. Peers keep
// their near caches coherent by publishing invalidated keys on a syncbus.Bus.
package cache
