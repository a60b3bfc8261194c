// Package scheduler runs deferred and recurring tasks.
//
// Two kinds of registrations:
//   - one-shot timers (Schedule/Cancel), used for poll deadlines
//   - cron or interval schedules (AddSchedule/AddCron/AddInterval), used for
//     housekeeping such as activity retention
//
// Tasks run on their own goroutine with a timeout and panic recovery. No
// scheduler lock is held while a task runs.
package scheduler
