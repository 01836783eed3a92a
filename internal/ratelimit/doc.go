// Package ratelimit throttles each client separately on each tenant host,
// so one noisy visitor of one application does not use up the budget of
// another. Requests from loopback peers, the code execution processes
// fetching modules through the loader, are never limited.
//
// State is per process and in memory. It is a first line against a single
// address flooding the gateway, not a defense against distributed abuse.
package ratelimit
