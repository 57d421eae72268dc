// Package resmon samples system CPU and memory so the scheduler can defer
// admissions while the host is saturated. It is a soft throttle beneath the
// hard per-class permit caps.
package resmon

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const pollInterval = 500 * time.Millisecond

// Monitor gates new admissions on CPU/memory ceilings. Zero ceilings
// disable the corresponding check.
type Monitor struct {
	maxCPU float64
	maxMem float64

	mu         sync.RWMutex
	currentCPU float64
	currentMem float64

	logger *log.Logger
}

// New creates a monitor with utilization ceilings in percent.
func New(maxCPU, maxMem float64, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Monitor{maxCPU: maxCPU, maxMem: maxMem, logger: logger}
}

// Enabled reports whether any ceiling is configured.
func (m *Monitor) Enabled() bool {
	return m.maxCPU > 0 || m.maxMem > 0
}

// Sample refreshes utilization from the system.
func (m *Monitor) Sample() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.currentCPU = percents[0]
	}
	if info, err := mem.VirtualMemory(); err == nil {
		m.currentMem = info.UsedPercent
	}
}

// Allow reports whether a new admission fits under the ceilings.
func (m *Monitor) Allow() bool {
	if !m.Enabled() {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.maxCPU > 0 && m.currentCPU > m.maxCPU {
		m.logger.Debug("admission deferred, cpu ceiling", "current", m.currentCPU, "max", m.maxCPU)
		return false
	}
	if m.maxMem > 0 && m.currentMem > m.maxMem {
		m.logger.Debug("admission deferred, memory ceiling", "current", m.currentMem, "max", m.maxMem)
		return false
	}
	return true
}

// Wait blocks until utilization fits under the ceilings or the context
// ends. Disabled monitors return immediately.
func (m *Monitor) Wait(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	m.Sample()
	if m.Allow() {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sample()
			if m.Allow() {
				return nil
			}
		}
	}
}
