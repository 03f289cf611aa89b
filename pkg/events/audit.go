package events

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"accredit/pkg/types"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// auditRecord is the stored row for an Event
type auditRecord struct {
	ID             uint   `gorm:"primarykey"`
	Type           string `gorm:"index"`
	Timestamp      int64  `gorm:"index"`
	Address        []byte `gorm:"size:32"`
	Subject        []byte `gorm:"size:32;index"`
	Actor          []byte `gorm:"size:32;index"`
	InFavor        bool
	ContentHash    []byte `gorm:"size:32"`
	PreviousHash   []byte `gorm:"size:32"`
	MemberCount    uint32
	EligibleVoters uint32
	VotesFor       uint32
	VotesAgainst   uint32
}

func (auditRecord) TableName() string { return "audit_events" }

var memoryDBSeq atomic.Uint64

// AuditLog persists events to sqlite
type AuditLog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenAuditLog opens the audit database under dataDir. With an empty dataDir
// the log is kept in a private in-memory database.
func OpenAuditLog(dataDir string, logger *zap.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dsn string
	if dataDir == "" {
		dsn = fmt.Sprintf("file:audit%d?mode=memory&cache=shared", memoryDBSeq.Add(1))
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", filepath.Join(dataDir, "audit.sqlite"))
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if dataDir == "" {
		// A shared-cache memory database lives only while a connection is open.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	if err := db.AutoMigrate(&auditRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit log: %w", err)
	}
	logger.Debug("Audit log opened", zap.String("dsn", dsn))
	return &AuditLog{db: db, logger: logger}, nil
}

func (a *AuditLog) Emit(ctx context.Context, ev Event) error {
	rec := auditRecord{
		Type:           string(ev.Type),
		Timestamp:      ev.Timestamp.Unix(),
		Address:        ev.Address[:],
		Subject:        ev.Subject[:],
		Actor:          ev.Actor[:],
		InFavor:        ev.InFavor,
		MemberCount:    ev.MemberCount,
		EligibleVoters: ev.EligibleVoters,
		VotesFor:       ev.VotesFor,
		VotesAgainst:   ev.VotesAgainst,
	}
	if ev.ContentHash != nil {
		rec.ContentHash = ev.ContentHash[:]
	}
	if ev.PreviousHash != nil {
		rec.PreviousHash = ev.PreviousHash[:]
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.Type, err)
	}
	return nil
}

// List returns matching events oldest first
func (a *AuditLog) List(ctx context.Context, f Filter) ([]Event, error) {
	q := a.db.WithContext(ctx).Model(&auditRecord{}).Order("id ASC")
	if f.Type != "" {
		q = q.Where("type = ?", string(f.Type))
	}
	if f.Subject != nil {
		q = q.Where("subject = ?", f.Subject[:])
	}
	if f.Actor != nil {
		q = q.Where("actor = ?", f.Actor[:])
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since.Unix())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var recs []auditRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.event())
	}
	return out, nil
}

func (a *AuditLog) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (rec auditRecord) event() Event {
	ev := Event{
		Type:           Type(rec.Type),
		Timestamp:      time.Unix(rec.Timestamp, 0).UTC(),
		InFavor:        rec.InFavor,
		MemberCount:    rec.MemberCount,
		EligibleVoters: rec.EligibleVoters,
		VotesFor:       rec.VotesFor,
		VotesAgainst:   rec.VotesAgainst,
	}
	copy(ev.Address[:], rec.Address)
	copy(ev.Subject[:], rec.Subject)
	copy(ev.Actor[:], rec.Actor)
	if len(rec.ContentHash) == len(types.Hash{}) {
		var h types.Hash
		copy(h[:], rec.ContentHash)
		ev.ContentHash = &h
	}
	if len(rec.PreviousHash) == len(types.Hash{}) {
		var h types.Hash
		copy(h[:], rec.PreviousHash)
		ev.PreviousHash = &h
	}
	return ev
}
