package generator

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds a structured generation call.
//
// Attempt n (1-based) runs at min(MaxTemperature, base + TemperatureStep*(n-1)),
// where base is the request's base temperature or BaseTemperature.
type RetryPolicy struct {
	MaxAttempts     int
	BaseTemperature float64
	TemperatureStep float64
	MaxTemperature  float64
	Delay           time.Duration // pause between attempts
	AttemptTimeout  time.Duration // bound on a single model call
}

// DefaultRetryPolicy returns three attempts from 0.1 to at most 0.5, two
// seconds apart, each bounded to 90 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseTemperature: 0.1,
		TemperatureStep: 0.1,
		MaxTemperature:  0.5,
		Delay:           2 * time.Second,
		AttemptTimeout:  90 * time.Second,
	}
}

// Validate checks the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseTemperature < 0 || p.TemperatureStep < 0 {
		return fmt.Errorf("temperatures must be non-negative")
	}
	if p.MaxTemperature < p.BaseTemperature {
		return fmt.Errorf("max temperature %.2f is below base %.2f", p.MaxTemperature, p.BaseTemperature)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must be non-negative")
	}
	return nil
}

// Temperature returns the temperature for attempt, starting from base.
// A zero base means the policy's BaseTemperature.
func (p RetryPolicy) Temperature(attempt int, base float64) float64 {
	if base <= 0 {
		base = p.BaseTemperature
	}
	if attempt < 1 {
		attempt = 1
	}
	t := base + p.TemperatureStep*float64(attempt-1)
	// Round away float noise so 0.1+0.1+0.1 reports as 0.3.
	t = math.Round(t*1e6) / 1e6
	return math.Min(t, math.Max(p.MaxTemperature, base))
}
