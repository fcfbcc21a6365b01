// Package device adapts the brightness sensor and light indicator the node
// drives at the edge of each cycle.
package device

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/iggydv12/lightswarm/internal/swarm"
)

// FileSensor reads an integer brightness value from a file, such as a sysfs
// ADC channel.
type FileSensor struct {
	path string
}

// NewFileSensor creates a FileSensor reading path.
func NewFileSensor(path string) *FileSensor {
	return &FileSensor{path: path}
}

// Read returns the current value clamped to 0..1023.
func (s *FileSensor) Read() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("read sensor %s: %w", s.path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse sensor %s: %w", s.path, err)
	}
	return ClampMetric(v), nil
}

// SimulatedSensor is a bounded random walk for running a swarm without hardware.
type SimulatedSensor struct {
	mu    sync.Mutex
	rng   *rand.Rand
	value int
	step  int
}

// NewSimulatedSensor creates a random walk seeded by seed.
func NewSimulatedSensor(seed int64) *SimulatedSensor {
	rng := rand.New(rand.NewSource(seed))
	return &SimulatedSensor{rng: rng, value: rng.Intn(swarm.MaxMetric + 1), step: 40}
}

// Read advances the walk by one step.
func (s *SimulatedSensor) Read() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = ClampMetric(s.value + s.rng.Intn(2*s.step+1) - s.step)
	return s.value, nil
}

// ClampMetric bounds a raw reading to 0..1023.
func ClampMetric(v int) int {
	if v < 0 {
		return 0
	}
	if v > swarm.MaxMetric {
		return swarm.MaxMetric
	}
	return v
}
