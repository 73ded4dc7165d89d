package jobs

import (
	"log"
	"time"

	"github.com/callpilot-ai/callpilot-backend/internal/services"
)

// SweeperJob periodically reaps calls whose timers were lost, for example
// after a process restart.
type SweeperJob struct {
	supervisor *services.TimeoutSupervisor
	interval   time.Duration
	threshold  time.Duration
	isRunning  bool
	stop       chan struct{}
}

// NewSweeperJob creates a new stale-call sweeper
func NewSweeperJob(supervisor *services.TimeoutSupervisor, interval, threshold time.Duration) *SweeperJob {
	return &SweeperJob{
		supervisor: supervisor,
		interval:   interval,
		threshold:  threshold,
		isRunning:  false,
		stop:       make(chan struct{}),
	}
}

// Start begins the background sweep loop
func (s *SweeperJob) Start() {
	if s.isRunning {
		log.Println("Sweeper job already running")
		return
	}

	s.isRunning = true
	log.Printf("Starting stale-call sweeper (every %v, threshold %v)...", s.interval, s.threshold)
	go s.run()
}

// Stop halts the sweep loop
func (s *SweeperJob) Stop() {
	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stop)
	log.Println("Stopping stale-call sweeper...")
}

func (s *SweeperJob) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if swept := s.supervisor.SweepStale(s.threshold); swept > 0 {
				log.Printf("Sweeper reaped %d stale calls", swept)
			}
		case <-s.stop:
			return
		}
	}
}
