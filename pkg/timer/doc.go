// Package timer provides the scheduling facade used by the connection
// supervisor and liveness monitor.
//
// All waits in the core (connect timeout, reconnect delay, probe
// interval) are expressed as scheduled callbacks through a Scheduler.
// Production code uses NewScheduler, which delegates to time.AfterFunc.
// Tests use Manual, which fires callbacks deterministically as the test
// advances a virtual clock.
//
// Cancellation is cooperative: stopping a Handle whose callback is
// already running does not interrupt it, so callbacks must re-check
// state before acting.
package timer
