// Package schedule runs periodic maintenance such as job retention sweeps
// and offline-cache pruning.
//
// Schedules are either a fixed interval (Every) or a standard five-field
// cron expression (Cron, Parse). Descriptors such as "@hourly" and
// "@every 30m" are accepted as well.
package schedule
