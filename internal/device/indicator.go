package device

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/iggydv12/lightswarm/internal/election"
	"github.com/iggydv12/lightswarm/internal/swarm"
)

// MaxLevel is the number of segments of the bar display.
const MaxLevel = 8

// Indication is what the indicator should currently show.
type Indication struct {
	Role   election.Role
	Metric int
	// Duty is the PWM duty cycle 0..255 derived from Metric.
	Duty int
	// Level is the number of lit bar segments 1..MaxLevel.
	Level int
	// Hold is set while a blink request keeps the indicator at full output.
	Hold bool
}

// NewIndication maps a metric linearly onto duty and level.
func NewIndication(role election.Role, metric int) Indication {
	metric = ClampMetric(metric)
	return Indication{
		Role:   role,
		Metric: metric,
		Duty:   scale(metric, 0, 255),
		Level:  scale(metric, 1, MaxLevel),
	}
}

// HoldIndication is the full-brightness output shown during a blink.
func HoldIndication(role election.Role, metric int) Indication {
	ind := NewIndication(role, metric)
	ind.Duty = 255
	ind.Level = MaxLevel
	ind.Hold = true
	return ind
}

func scale(v, lo, hi int) int {
	return lo + v*(hi-lo)/swarm.MaxMetric
}

// LogIndicator reports indication changes through the logger.
type LogIndicator struct {
	mu     sync.Mutex
	logger *zap.Logger
	last   Indication
	shown  bool
}

// NewLogIndicator creates a LogIndicator.
func NewLogIndicator(logger *zap.Logger) *LogIndicator {
	return &LogIndicator{logger: logger}
}

// Show logs the indication when role, level or hold changed.
func (l *LogIndicator) Show(ind Indication) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shown && l.last.Role == ind.Role && l.last.Level == ind.Level && l.last.Hold == ind.Hold {
		return nil
	}
	l.last, l.shown = ind, true
	l.logger.Info("Indicator",
		zap.Stringer("role", ind.Role),
		zap.Int("metric", ind.Metric),
		zap.Int("level", ind.Level),
		zap.Bool("hold", ind.Hold),
	)
	return nil
}

// FileIndicator writes the PWM duty to a file, such as a sysfs LED
// brightness attribute.
type FileIndicator struct {
	path string
}

// NewFileIndicator creates a FileIndicator writing to path.
func NewFileIndicator(path string) *FileIndicator {
	return &FileIndicator{path: path}
}

// Show writes the duty cycle.
func (f *FileIndicator) Show(ind Indication) error {
	if err := os.WriteFile(f.path, []byte(strconv.Itoa(ind.Duty)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write indicator %s: %w", f.path, err)
	}
	return nil
}
