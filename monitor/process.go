package monitor

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ProcessSampler periodically records the memory and CPU usage of the
// current process into a Monitor
type ProcessSampler struct {
	proc *process.Process
	mon  *Monitor
	log  *zap.Logger
}

// NewProcessSampler returns a sampler for the running process
func NewProcessSampler(m *Monitor) (*ProcessSampler, error) {

	proc, err := process.NewProcess(int32(os.Getpid()))

	if err != nil {
		return nil, fmt.Errorf("error opening process info: %w", err)
	}

	return &ProcessSampler{
		proc: proc,
		mon:  m,
		log:  m.log,
	}, nil
}

// Sample records the resident memory in megabytes and the CPU percentage
// used since the previous sample
func (s *ProcessSampler) Sample() error {

	mem, err := s.proc.MemoryInfo()

	if err != nil {
		return fmt.Errorf("error reading memory info: %w", err)
	}

	s.mon.RecordMemory(float64(mem.RSS) / 1024 / 1024)

	cpu, err := s.proc.Percent(0)

	if err != nil {
		return fmt.Errorf("error reading cpu usage: %w", err)
	}

	s.mon.RecordCPU(math.Round(cpu*100) / 100)

	return nil
}

// Run samples every interval until ctx is cancelled
func (s *ProcessSampler) Run(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := s.Sample(); err != nil {
				s.log.Debug("process sample failed", zap.Error(err))
			}
		}
	}
}
