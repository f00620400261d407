// Package scheduler runs housekeeping jobs on cron expressions or fixed intervals.
//
// Jobs run on the cron goroutine wrapped with panic recovery and
// skip-if-still-running, so a slow retention sweep never overlaps itself.
package scheduler
