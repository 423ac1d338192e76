package reconcile

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Schedule runs report-only sweeps on a cron expression until the returned
// scheduler is shut down. Overlapping runs are skipped. Scheduled sweeps never
// repair: live uploads move the counters between the read and the write.
func Schedule(ctx context.Context, r *Reconciler, cronExpr string) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	sweep := func(ctx context.Context) {
		log := zerolog.Ctx(ctx)
		report, err := r.Run(ctx, false)
		if err != nil {
			log.Error().Err(err).Msg("reconcile sweep failed")
			return
		}
		log.Info().
			Int("buckets", report.Buckets).
			Int("files", report.Files).
			Int("drift", len(report.Drift)).
			Int("missing_blobs", len(report.MissingBlobs)).
			Int("orphan_blobs", len(report.OrphanBlobs)).
			Msg("reconcile sweep finished")
	}

	_, err = s.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(sweep, ctx),
		gocron.WithName("reconcile"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}

	s.Start()
	return s, nil
}
