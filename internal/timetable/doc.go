// Package timetable queues registered procedures on a cron schedule.
//
// It does not run anything itself: each firing entry builds a fresh
// procedure from the registry, opens a uniquely named results destination
// and hands the experiment to the scheduler, which serializes execution as
// usual. Both 5-field and 6-field (with seconds) cron specs are accepted,
// as well as @every intervals.
package timetable
