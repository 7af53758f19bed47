package session

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	apperrors "github.com/metabridge-dev/metabridge/go/pkg/bridge/errors"
)

// Record is one row of the session index. The filesystem remains the source
// of truth; the index only accelerates listing and powers the admin CLI.
type Record struct {
	ID            string    `gorm:"primaryKey;column:id"`
	Name          string    `gorm:"column:name"`
	StudyType     string    `gorm:"column:study_type"`
	EffectMeasure string    `gorm:"column:effect_measure"`
	AnalysisModel string    `gorm:"column:analysis_model"`
	Created       time.Time `gorm:"column:created"`
	Status        string    `gorm:"column:status"`
	LastOperation string    `gorm:"column:last_operation"`
	LastInvoked   time.Time `gorm:"column:last_invoked"`
}

func (Record) TableName() string {
	return "sessions"
}

// Store is a SQLite-backed session index kept inside the sandbox root.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the index database at path.
func OpenStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation,
			"failed to open session index", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileOperation,
			"failed to migrate session index", err)
	}
	return &Store{db: db}, nil
}

// Upsert inserts or replaces the row for meta's session.
func (s *Store) Upsert(meta Metadata) error {
	rec := Record{
		ID:            meta.SessionID,
		Name:          meta.Name,
		StudyType:     meta.StudyType,
		EffectMeasure: meta.EffectMeasure,
		AnalysisModel: meta.AnalysisModel,
		Created:       meta.Created,
		Status:        meta.Status,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// Get returns the indexed record for id.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns all indexed sessions, newest first.
func (s *Store) List() ([]Metadata, error) {
	var recs []Record
	if err := s.db.Order("created desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	metas := make([]Metadata, 0, len(recs))
	for _, rec := range recs {
		metas = append(metas, Metadata{
			SessionID:     rec.ID,
			Name:          rec.Name,
			StudyType:     rec.StudyType,
			EffectMeasure: rec.EffectMeasure,
			AnalysisModel: rec.AnalysisModel,
			Created:       rec.Created,
			Status:        rec.Status,
		})
	}
	return metas, nil
}

// RecordInvocation stamps the last completed operation on a session row.
func (s *Store) RecordInvocation(id, operation string) error {
	return s.db.Model(&Record{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_operation": operation,
		"last_invoked":   time.Now().UTC(),
	}).Error
}

// Records returns the raw index rows, newest first, for the admin CLI.
func (s *Store) Records() ([]Record, error) {
	var recs []Record
	if err := s.db.Order("created desc").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
