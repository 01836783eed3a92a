// Package health answers the liveness and readiness endpoints of the
// gateway and the ops listener.
//
// Readiness is the conjunction of a drain [Gate], closed on shutdown so
// load balancers stop routing before in-flight requests finish, and a
// [Flag] that is raised once the project host has served its server
// configuration.
package health
