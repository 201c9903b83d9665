package cron

import (
	"context"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/daemon"
)

type Config struct {
	ReconcileWorkersSchedule string `env:"CRON_SCHEDULE_RECONCILE_WORKERS" envDefault:"@every 1m"`
}

// CronManager runs the daemon's periodic maintenance. The reconcile job
// is the respawn mechanism for crashed workers: each tick it spawns a
// worker for every active user that has none.
type CronManager struct {
	cfg    *Config
	log    logger.Logger
	daemon *daemon.Daemon
	cron   *cronv3.Cron
	jobIDs map[string]cronv3.EntryID
}

func NewCronManager(cfg *Config, log logger.Logger, d *daemon.Daemon) *CronManager {
	return &CronManager{
		cfg:    cfg,
		log:    log,
		daemon: d,
		cron:   cronv3.New(),
		jobIDs: make(map[string]cronv3.EntryID),
	}
}

func (cm *CronManager) StartCron() error {
	id, err := cm.cron.AddFunc(cm.cfg.ReconcileWorkersSchedule, cm.reconcileWorkers)
	if err != nil {
		return err
	}
	cm.jobIDs["reconcile_workers"] = id

	cm.cron.Start()
	cm.log.Infof("Cron started, reconcile schedule %q", cm.cfg.ReconcileWorkersSchedule)
	return nil
}

func (cm *CronManager) StopCron() {
	ctx := cm.cron.Stop()
	<-ctx.Done()
}

func (cm *CronManager) reconcileWorkers() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.reconcileWorkers")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := cm.daemon.Reconcile(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Reconcile failed: %v", err)
	}
}
