package app

import (
	"time"

	pkgcron "github.com/chainpass/core/internal/pkg/cron"
	"github.com/chainpass/core/internal/modules/rotation"
)

func registerCronJobs(sched *pkgcron.Scheduler, rotationSvc *rotation.Service, interval time.Duration) {
	sched.Register(pkgcron.Job{
		Name:        "rotation.sweep",
		Description: "Replace rotating tokens nearing expiry and flag stalled chains",
		Interval:    interval,
		Fn:          rotationSvc.Sweep,
	})
}
