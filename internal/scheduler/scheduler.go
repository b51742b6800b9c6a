package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultOTPCleanupSpec runs at the top of every hour.
	DefaultOTPCleanupSpec = "0 0 * * * *"

	jobOTPCleanup = "otp.cleanup_expired"
	jobTimeout    = 5 * time.Minute
)

// Job is a unit of periodic work.
type Job interface {
	Run(ctx context.Context) error
}

type Deps struct {
	OTPCleanup     Job
	OTPCleanupSpec string
}

// New builds a cron runner in UTC with second-level specs. The caller owns
// Start and Stop.
func New(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	if deps.OTPCleanup != nil {
		spec := deps.OTPCleanupSpec
		if spec == "" {
			spec = DefaultOTPCleanupSpec
		}
		addJob(c, spec, jobOTPCleanup, logger, deps.OTPCleanup)
	}

	return c
}

func addJob(c *cron.Cron, spec, name string, logger *zap.Logger, job Job) {
	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			logger.Error("scheduler job failed", zap.String("job", name), zap.Error(err))
			return
		}
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
