// Package gormstore implements the storage.Backend interface on GORM, for
// both SQLite and PostgreSQL. Audit events are queued and written in batches
// by a background writer; an in-memory SQLite database is periodically
// dumped to disk via VACUUM INTO.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventui/server/internal/database"
	"github.com/eventui/server/internal/model"
	"github.com/eventui/server/internal/model/convert"
	"github.com/eventui/server/internal/queue"
	"github.com/eventui/server/internal/storage"
	"github.com/eventui/server/pkg/core"
)

const (
	defaultWriteInterval = 2 * time.Second
	eventBatchSize       = 500
)

// Config holds configuration for the GORM storage backend.
type Config struct {
	// AuditEvents enables the mission_event_logs writer.
	AuditEvents   bool
	WriteInterval time.Duration
	// DumpPath and DumpInterval enable periodic VACUUM INTO dumps of an
	// in-memory SQLite database.
	DumpPath     string
	DumpInterval time.Duration
}

// Backend implements storage.Backend using GORM with queue-based batch
// writes for audit events.
type Backend struct {
	db     *gorm.DB
	cfg    Config
	log    zerolog.Logger
	events *queue.Queue[model.MissionEventLog]

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a new GORM storage backend on an open connection.
func New(db *gorm.DB, cfg Config, log zerolog.Logger) *Backend {
	if cfg.WriteInterval <= 0 {
		cfg.WriteInterval = defaultWriteInterval
	}
	return &Backend{
		db:       db,
		cfg:      cfg,
		log:      log,
		events:   queue.New[model.MissionEventLog](),
		stopChan: make(chan struct{}),
	}
}

// Init migrates the schema and starts the background goroutines.
func (b *Backend) Init() error {
	if b.db == nil {
		return errors.New("gormstore: no database connection")
	}
	if err := database.Migrate(b.db); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	if b.cfg.AuditEvents {
		b.wg.Add(1)
		go b.writeLoop()
	}
	if b.dumps() {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

func (b *Backend) dumps() bool {
	return b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 && b.db.Dialector.Name() == "sqlite"
}

// Close stops the background goroutines, writes what is still queued and
// takes a final dump.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopChan)
		b.wg.Wait()

		b.flushEvents()
		if b.dumps() {
			err = database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath)
		}
	})
	return err
}

func (b *Backend) LoadPlayer(ctx context.Context, player uuid.UUID) (*core.PlayerMissionState, error) {
	var row model.PlayerState
	err := b.db.WithContext(ctx).Where("player_id = ?", player).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", player, err)
	}
	return convert.RowToState(row)
}

func (b *Backend) SavePlayer(ctx context.Context, state *core.PlayerMissionState) error {
	row, err := convert.StateToRow(state)
	if err != nil {
		return err
	}
	err = b.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save player %s: %w", state.PlayerID, err)
	}
	return nil
}

func (b *Backend) DeletePlayer(ctx context.Context, player uuid.UUID) error {
	err := b.db.WithContext(ctx).Where("player_id = ?", player).Delete(&model.PlayerState{}).Error
	if err != nil {
		return fmt.Errorf("delete player %s: %w", player, err)
	}
	return nil
}

func (b *Backend) HasPlayer(ctx context.Context, player uuid.UUID) (bool, error) {
	var count int64
	err := b.db.WithContext(ctx).Model(&model.PlayerState{}).Where("player_id = ?", player).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count player %s: %w", player, err)
	}
	return count > 0, nil
}

// RecordEvent queues ev for the audit writer.
func (b *Backend) RecordEvent(ev core.Event) error {
	if !b.cfg.AuditEvents {
		return nil
	}
	b.events.Push(convert.EventToLog(ev))
	return nil
}

// QueuedEvents returns the number of audit rows waiting to be written.
func (b *Backend) QueuedEvents() int {
	return b.events.Len()
}

// writeQueue drains q into the database in one transaction. Items are
// pushed back on failure so the next cycle retries them.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log zerolog.Logger) {
	if q.Empty() {
		return
	}

	items := q.GetAndEmpty()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&items, eventBatchSize).Error
	})
	if err != nil {
		log.Error().Err(err).Int("count", len(items)).Msgf("Error creating %s", name)
		q.Push(items...)
		return
	}
	log.Debug().Int("count", len(items)).Msgf("Wrote %s", name)
}

func (b *Backend) flushEvents() {
	writeQueue(b.db, b.events, "mission events", b.log)
}

func (b *Backend) writeLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.flushEvents()
		}
	}
}

// dumpLoop periodically dumps the in-memory SQLite database to disk.
// VACUUM INTO creates a point-in-time snapshot, so no pause is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			} else {
				b.log.Debug().Dur("duration", time.Since(start)).Msg("Dumped to disk")
			}
		}
	}
}
