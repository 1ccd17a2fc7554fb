// Package scheduler registers daily, wall-clock anchored timers. Each timer
// fires once per local day at a time of day, optionally shifted back by a
// number of PTUs to express "N slices before gate closure". Firing only
// hands control to an action, which is expected to enqueue a domain event.
package scheduler
