// Package archive keeps an immutable history of terminal match records in a
// relational store for audits and reporting. Active records never live here.
package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"racewager/native/match"
)

// Record is the archived form of a terminal match.
type Record struct {
	MatchID    string `gorm:"primaryKey;size:64"`
	Status     string `gorm:"index;size:32"`
	PlayerA    string `gorm:"size:128"`
	PlayerB    string `gorm:"size:128"`
	BetAmount  int64
	SettleTxID string `gorm:"size:128"`
	Winner     string `gorm:"size:128"`
	Payload    []byte
	ArchivedAt time.Time
}

// TableName keeps the table name stable across gorm versions.
func (Record) TableName() string { return "match_archive" }

// Store writes terminal match records to SQLite.
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// Open creates or opens the archive database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

// Archive stores the terminal record. A duplicate archive of the same match
// id is a no-op, keeping archival idempotent against retries.
func (s *Store) Archive(mc *match.MatchContext) error {
	if mc == nil {
		return fmt.Errorf("archive: nil match context")
	}
	if !mc.Status.IsTerminal() {
		return fmt.Errorf("archive: match %s is not terminal", mc.ID)
	}
	payload, err := json.Marshal(mc)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", mc.ID, err)
	}
	record := Record{
		MatchID:    mc.ID,
		Status:     mc.Status.String(),
		PlayerA:    mc.PlayerA.Address,
		PlayerB:    mc.PlayerB.Address,
		BetAmount:  mc.BetAmount,
		SettleTxID: mc.SettleTxID,
		Winner:     mc.WinnerAddress,
		Payload:    payload,
		ArchivedAt: s.nowFn().UTC(),
	}
	result := s.db.Where("match_id = ?", mc.ID).FirstOrCreate(&record)
	if result.Error != nil {
		return fmt.Errorf("archive: write %s: %w", mc.ID, result.Error)
	}
	return nil
}

// Get reads an archived record by match id.
func (s *Store) Get(matchID string) (*match.MatchContext, error) {
	var record Record
	if err := s.db.First(&record, "match_id = ?", matchID).Error; err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", matchID, err)
	}
	var mc match.MatchContext
	if err := json.Unmarshal(record.Payload, &mc); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", matchID, err)
	}
	return &mc, nil
}
