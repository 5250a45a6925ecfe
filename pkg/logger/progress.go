package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker logs row-throughput progress for long parsing or matching
// passes at a fixed interval, so large feeds do not run silently.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mu          sync.Mutex
}

// NewProgressTracker starts tracking an operation. A zero total means the
// size is unknown (streaming input).
func NewProgressTracker(operation string, total int64, log Logger) *ProgressTracker {
	if log == nil {
		log = GetGlobalLogger()
	}
	now := time.Now()
	return &ProgressTracker{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		total:       total,
		startTime:   now,
		lastLogTime: now,
		logInterval: 5 * time.Second,
	}
}

// Add advances the counter and logs if the interval elapsed.
func (p *ProgressTracker) Add(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += delta
	now := time.Now()
	if now.Sub(p.lastLogTime) < p.logInterval {
		return
	}
	p.lastLogTime = now

	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"rate":      fmt.Sprintf("%.0f/sec", p.rate(now)),
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	p.logger.WithFields(fields).Info("Progress update")
}

// Complete logs the final counts and elapsed time.
func (p *ProgressTracker) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"processed": p.current,
		"duration":  now.Sub(p.startTime).String(),
		"rate":      fmt.Sprintf("%.0f/sec", p.rate(now)),
	}).Info("Operation completed")
}

func (p *ProgressTracker) rate(now time.Time) float64 {
	secs := now.Sub(p.startTime).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.current) / secs
}

// TimedOperation runs fn and logs its duration and outcome under the
// operation name. The error is passed through untouched.
func TimedOperation(operation string, log Logger, fn func() error) error {
	if log == nil {
		log = GetGlobalLogger()
	}
	start := time.Now()
	err := fn()
	fields := Fields{
		"operation": operation,
		"duration":  time.Since(start).String(),
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Error("Operation failed")
	} else {
		log.WithFields(fields).Info("Operation completed")
	}
	return err
}
