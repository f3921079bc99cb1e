// Package lock provides non-blocking mutual exclusion with Redis and
// in-memory implementations. Every successful acquisition returns a Handle
// carrying a unique token; releasing checks that token so a holder whose lease
// already expired cannot free a lock that now belongs to someone else.
//
// Acquisition never waits. Retrying is left to the caller.
package lock
