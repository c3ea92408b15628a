package sweeper

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sketchwire/backend/internal/room"
)

// Rooms normally die the moment their last member disconnects. The one case
// that slips through is a room that was created over HTTP and never joined:
// nothing membership-driven ever fires for it. The sweeper collects those.

type Config struct {
	Interval time.Duration

	// How long a room may sit empty before it is collected. Long enough
	// that a creator sharing the code out of band can still get in.
	MaxUnjoined time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		MaxUnjoined: 15 * time.Minute,
	}
}

type Service struct {
	registry *room.Registry
	config   Config
	log      *zap.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(registry *room.Registry, config Config, log *zap.Logger) *Service {
	return &Service{
		registry: registry,
		config:   config,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("room sweeper started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("max_unjoined", s.config.MaxUnjoined))
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info("room sweeper stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// SweepNow collects empty rooms past the unjoined deadline and reports how
// many were destroyed.
func (s *Service) SweepNow() int {
	destroyed := s.registry.DestroyStale(s.config.MaxUnjoined)
	if destroyed > 0 {
		s.log.Info("swept unjoined rooms", zap.Int("count", destroyed))
	}
	return destroyed
}
