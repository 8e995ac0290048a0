// Package retention prunes old usage and request records on a cron schedule.
//
//	pruner, err := retention.NewPruner(store, 30*24*time.Hour, collector, logger)
//	scheduler := retention.NewScheduler(pruner, "0 3 * * *", logger)
//	err = scheduler.Start(ctx)
//
// Only the usage and request logs are pruned. Token limits and the usage counters on them
// are kept regardless of age.
package retention
