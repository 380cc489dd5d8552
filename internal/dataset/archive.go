package dataset

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ArchiveSweeper periodically runs Checker.Repack with doIt=true so that
// ARCHIVE_AGE/DELETE_AGE segments are moved/removed without an operator
// invoking repack by hand. Directly adapted from
// internal/retention/retention_cleaner.go's ticker-driven sweep,
// repointed from "delete segments past a retention window" to "move
// segments past archive-age into .archive/last/, delete segments past
// delete-age from disk and index".
type ArchiveSweeper struct {
	mu       sync.Mutex
	checkers []*Checker
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	log      *zap.SugaredLogger
}

func NewArchiveSweeper(interval time.Duration, log *zap.SugaredLogger) *ArchiveSweeper {
	if log == nil {
		l, _ := zap.NewProduction()
		log = l.Sugar()
	}
	return &ArchiveSweeper{
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      log,
	}
}

// Register adds a dataset checker to the sweep rotation.
func (s *ArchiveSweeper) Register(c *Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, c)
}

func (s *ArchiveSweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *ArchiveSweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepAll()
		case <-s.stopCh:
			return
		}
	}
}

func (s *ArchiveSweeper) sweepAll() {
	s.mu.Lock()
	checkers := make([]*Checker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.Unlock()

	for _, c := range checkers {
		reporter := Reporter{
			SegmentArchived: func(relPath string) { s.log.Infow("archived segment", "relpath", relPath) },
			SegmentDeleted:  func(relPath string) { s.log.Infow("deleted segment past delete-age", "relpath", relPath) },
		}
		if err := c.Repack(reporter, true); err != nil {
			s.log.Errorw("archive sweep failed", "error", err)
		}
	}
}

func (s *ArchiveSweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}
