package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/eventui/server/internal/influx"
	"github.com/eventui/server/internal/progression"
)

// DefaultInterval is used when Dependencies.Interval is unset.
const DefaultInterval = time.Minute

// StatsSource reports engine counters.
type StatsSource interface {
	Stats() progression.Stats
}

// PointWriter receives a sample point each interval.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Engine StatsSource
	// Peers returns the number of connected companion clients.
	Peers func() int
	// Dirty returns the number of player states waiting to be saved.
	Dirty  func() int
	Influx PointWriter
	Logger *slog.Logger
	// StatusPath, when set, is rewritten with the latest status as JSON.
	StatusPath string
	Interval   time.Duration
}

// Status is one sample of the server's state.
type Status struct {
	Time           time.Time `json:"time"`
	Players        int       `json:"players"`
	Missions       int       `json:"missions"`
	ActiveMissions int       `json:"activeMissions"`
	QueuedSignals  int       `json:"queuedSignals"`
	ConnectedPeers int       `json:"connectedPeers"`
	DirtyPlayers   int       `json:"dirtyPlayers"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	last      Status
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Sample collects the current status.
func (s *Service) Sample(now time.Time) Status {
	st := Status{Time: now}
	if s.deps.Engine != nil {
		es := s.deps.Engine.Stats()
		st.Players = es.Players
		st.Missions = es.Missions
		st.ActiveMissions = es.ActiveMissions
		st.QueuedSignals = es.QueuedSignals
	}
	if s.deps.Peers != nil {
		st.ConnectedPeers = s.deps.Peers()
	}
	if s.deps.Dirty != nil {
		st.DirtyPlayers = s.deps.Dirty()
	}
	return st
}

// Last returns the most recent sample taken by the running monitor.
func (s *Service) Last() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Point converts a status sample to a server_performance point.
func Point(st Status) *influxdb2_write.Point {
	return influxdb2_write.NewPointWithMeasurement("eventui_status").
		AddField("players", st.Players).
		AddField("missions", st.Missions).
		AddField("active_missions", st.ActiveMissions).
		AddField("queued_signals", st.QueuedSignals).
		AddField("connected_peers", st.ConnectedPeers).
		AddField("dirty_players", st.DirtyPlayers).
		SetTime(st.Time)
}

func (s *Service) record(st Status) {
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()

	logger := s.deps.Logger
	logger.Debug("Status",
		"players", st.Players,
		"activeMissions", st.ActiveMissions,
		"queuedSignals", st.QueuedSignals,
		"connectedPeers", st.ConnectedPeers,
		"dirtyPlayers", st.DirtyPlayers,
	)

	if s.deps.StatusPath != "" {
		b, err := json.MarshalIndent(st, "", "  ")
		if err == nil {
			err = os.WriteFile(s.deps.StatusPath, b, 0644)
		}
		if err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(influx.BucketServerPerformance, Point(st)); err != nil {
			logger.Error("Error writing status point", "error", err)
		}
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.record(s.Sample(now))
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
}
