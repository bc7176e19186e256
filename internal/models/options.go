// internal/models/options.go
package models

import (
	"fmt"
)

// Default run option values, applied by Options.Normalize.
const (
	DefaultMinWorkers   = 2
	DefaultMaxWorkers   = 8
	DefaultRateHint     = 60 // requests per minute
	DefaultRetryCeiling = 6
)

// Options controls a single engine run. Every recognized field is listed
// here explicitly and validated at submit time; there is no pass-through
// bag of settings.
type Options struct {
	MinWorkers     int  `json:"minWorkers"`
	MaxWorkers     int  `json:"maxWorkers"`
	StartWorkers   int  `json:"startWorkers"`   // 0 means MinWorkers
	RateHint       int  `json:"rateHint"`       // requests per minute offered to the provider
	ForceRecompute bool `json:"forceRecompute"` // ignore the fingerprint store when planning
	RetryCeiling   int  `json:"retryCeiling"`   // attempts per task for throttle/timeout failures
	DryRun         bool `json:"dryRun"`         // plan only, dispatch nothing

	// OnResult, when set, is invoked once per terminally completed task.
	// Called from worker goroutines; implementations must be safe for
	// concurrent use. Not serializable, never populated over the API.
	OnResult func(taskID int, output string, err error) `json:"-"`
}

// Normalize fills zero values with defaults and validates the result.
func (o *Options) Normalize() error {
	if o.MinWorkers == 0 {
		o.MinWorkers = DefaultMinWorkers
	}
	if o.MaxWorkers == 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.StartWorkers == 0 {
		o.StartWorkers = o.MinWorkers
	}
	if o.RateHint == 0 {
		o.RateHint = DefaultRateHint
	}
	if o.RetryCeiling == 0 {
		o.RetryCeiling = DefaultRetryCeiling
	}

	if o.MinWorkers < 1 {
		return fmt.Errorf("minWorkers must be >= 1, got %d", o.MinWorkers)
	}
	if o.MaxWorkers < o.MinWorkers {
		return fmt.Errorf("maxWorkers (%d) must be >= minWorkers (%d)", o.MaxWorkers, o.MinWorkers)
	}
	if o.StartWorkers < o.MinWorkers || o.StartWorkers > o.MaxWorkers {
		return fmt.Errorf("startWorkers (%d) must be within [%d, %d]", o.StartWorkers, o.MinWorkers, o.MaxWorkers)
	}
	if o.RateHint < 1 {
		return fmt.Errorf("rateHint must be >= 1 rpm, got %d", o.RateHint)
	}
	if o.RetryCeiling < 1 {
		return fmt.Errorf("retryCeiling must be >= 1, got %d", o.RetryCeiling)
	}
	return nil
}
