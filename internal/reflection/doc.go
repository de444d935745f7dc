// Package reflection runs the periodic autonomous reflection.
//
// # Overview
//
// On every cron tick (or manual Trigger) the Scheduler looks at the target
// room, picks the next goal it has not surfaced recently, gathers context
// and asks the model once whether to post a message about it:
//
//	idle -> observing -> thinking -> idle
//
// Every transition is published to subscribers. Each run ends with a
// ReflectionEntry in the log, whatever the outcome.
//
// # Rate limiting
//
// A message decision is downgraded to pass when the daily cap is reached or
// the cooldown since the last posted message has not elapsed. Triggers can
// bypass the limits and the enabled flag for testing.
//
// # Failure model
//
// Trigger never fails. Storage, model and parse errors become a pass with a
// reason. A failed model call is not retried within the run; the next tick
// sees the same unconsumed goal.
package reflection
