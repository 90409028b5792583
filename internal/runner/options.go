package runner

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/apiprobe/internal/metrics"
)

// Options configure the Runner.
type Options struct {
	Concurrency    int                         // number of worker goroutines
	RatePerSecond  int                         // job starts per second (0 means unlimited)
	Timeout        time.Duration               // overall time limit (0 means no cap)
	FailFast       bool                        // stop scheduling after the first failed job
	Collector      *metrics.Collector          // receives every finished job (optional)
	Logger         *zap.Logger                 // defaults to a no-op logger
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}
