package scheduler

import (
	"context"
	"os"
	"strconv"
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

func ProvideConfig() Config {
	cfg := DefaultConfig()
	if raw := os.Getenv("SCHEDULER_RUN_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.RunInterval = d
		}
	}
	if raw := os.Getenv("SCHEDULER_BATCH_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.BatchSize = n
		}
	}
	if raw := os.Getenv("SCHEDULER_WORKER_POOL_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerPoolSize = n
		}
	}
	if raw := os.Getenv("SCHEDULER_JOB_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.JobTimeout = d
		}
	}
	return cfg.withDefaults()
}

// Run starts the scheduler loop on the fx lifecycle. Wired only in the
// scheduler binary, not the API server.
func Run(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sched.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
