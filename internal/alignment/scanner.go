package alignment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScannerConfig configures periodic background alignment scanning.
type ScannerConfig struct {
	// Interval between scans. Default: 5 minutes.
	Interval time.Duration

	// Repair makes the scanner repair drift instead of just reporting it.
	Repair bool

	// OnDrift is called when a scan finds a misaligned report.
	OnDrift func(report *Report)
}

// Scanner runs alignment checks on a timer in a background goroutine.
type Scanner struct {
	auditor *Auditor
	config  ScannerConfig
	logger  *zap.Logger

	mu         sync.RWMutex
	lastReport *Report
	lastError  error
	running    bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScanner creates a background alignment scanner.
func NewScanner(auditor *Auditor, config ScannerConfig, logger *zap.Logger) *Scanner {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		auditor: auditor,
		config:  config,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins periodic scanning. Returns immediately; scanning happens in
// a goroutine. The first scan runs right away.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting alignment scanner",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("repair", s.config.Repair),
	)

	go s.run(ctx)
}

// Stop halts the scanner and waits for it to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// LastReport returns the most recent scan report, or nil before the first scan.
func (s *Scanner) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// LastError returns the most recent scan error, if any.
func (s *Scanner) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

func (s *Scanner) run(ctx context.Context) {
	defer close(s.doneCh)

	s.scan(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("alignment scanner stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("alignment scanner stopped: stop requested")
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	report, err := s.auditor.Check(ctx)

	s.mu.Lock()
	s.lastReport = report
	s.lastError = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("alignment scan failed", zap.Error(err))
		return
	}

	if report.Aligned() {
		return
	}

	if s.config.OnDrift != nil {
		s.config.OnDrift(report)
	}

	if s.config.Repair {
		if _, err := s.auditor.Repair(ctx); err != nil {
			s.logger.Error("alignment auto-repair failed", zap.Error(err))
		}
	}
}
