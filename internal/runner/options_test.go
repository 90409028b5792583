package runner

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    Options
		validate func(*testing.T, Options)
	}{
		{
			name:  "defaults",
			input: Options{},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 1 {
					t.Errorf("Concurrency = %d, want 1", o.Concurrency)
				}
				if o.Logger == nil {
					t.Error("Logger should not be nil")
				}
				if o.LimiterFactory == nil {
					t.Error("LimiterFactory should not be nil")
				}
			},
		},
		{
			name: "negative values corrected",
			input: Options{
				Concurrency:   -5,
				RatePerSecond: -1,
				Timeout:       -time.Second,
			},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 1 {
					t.Errorf("Concurrency = %d, want 1", o.Concurrency)
				}
				if o.RatePerSecond != 0 {
					t.Errorf("RatePerSecond = %d, want 0", o.RatePerSecond)
				}
				if o.Timeout != 0 {
					t.Errorf("Timeout = %s, want 0", o.Timeout)
				}
			},
		},
		{
			name: "preserve valid values",
			input: Options{
				Concurrency:   10,
				RatePerSecond: 50,
				Timeout:       time.Minute,
				FailFast:      true,
			},
			validate: func(t *testing.T, o Options) {
				if o.Concurrency != 10 || o.RatePerSecond != 50 || o.Timeout != time.Minute || !o.FailFast {
					t.Errorf("options changed: %+v", o)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.normalize()
			tt.validate(t, tt.input)
		})
	}
}

func TestDefaultLimiterFactory(t *testing.T) {
	o := Options{}
	o.normalize()

	if got := o.LimiterFactory(0).Limit(); got != rate.Inf {
		t.Errorf("unlimited limiter = %v, want Inf", got)
	}
	l := o.LimiterFactory(20)
	if l.Limit() != rate.Limit(20) || l.Burst() != 1 {
		t.Errorf("limiter = %v/%d, want 20/1", l.Limit(), l.Burst())
	}
}
