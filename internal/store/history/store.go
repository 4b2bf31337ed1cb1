// Package history keeps a log of finished analyses in SQLite. Image bytes are
// never written, only dimensions, texts and the failure if any.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"imagereader/internal/analysis"
	"imagereader/internal/logger"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("history record not found")

type recordModel struct {
	ID           string            `gorm:"column:id;primaryKey"`
	SessionID    string            `gorm:"column:session_id;index"`
	Filename     string            `gorm:"column:filename"`
	Model        string            `gorm:"column:model"`
	SourceFormat string            `gorm:"column:source_format"`
	Width        int               `gorm:"column:width"`
	Height       int               `gorm:"column:height"`
	Status       string            `gorm:"column:status;index"`
	FailureKind  string            `gorm:"column:failure_kind"`
	FailureLabel string            `gorm:"column:failure_label"`
	Detail       string            `gorm:"column:detail"`
	Texts        datatypes.JSONMap `gorm:"column:texts"`
	ElapsedMS    int64             `gorm:"column:elapsed_ms"`
	CreatedAt    int64             `gorm:"column:created_at;autoCreateTime:milli;index"`
}

func (recordModel) TableName() string { return "analysis_records" }

// Record 是对外暴露的历史条目。
type Record struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"-"` // 会话 id 即 cookie 值，不对外输出
	Filename     string            `json:"filename"`
	Model        string            `json:"model"`
	SourceFormat string            `json:"source_format,omitempty"`
	Width        int               `json:"width,omitempty"`
	Height       int               `json:"height,omitempty"`
	Status       string            `json:"status"`
	FailureKind  string            `json:"failure_kind,omitempty"`
	FailureLabel string            `json:"failure_label,omitempty"`
	Detail       string            `json:"detail,omitempty"`
	Texts        map[string]string `json:"texts,omitempty"`
	ElapsedMS    int64             `json:"elapsed_ms"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Store persists analysis outcomes with gorm on a modernc sqlite connection.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history store: %w", err)
	}
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history store migrate: %w", err)
	}
	logger.Infof("history store at %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record implements analysis.Recorder.
func (s *Store) Record(ctx context.Context, out analysis.Outcome) error {
	rec := Record{
		SessionID:    out.SessionID,
		Filename:     out.Filename,
		Model:        out.Model,
		SourceFormat: out.SourceFormat,
		Width:        out.Width,
		Height:       out.Height,
		Status:       out.Status(),
		ElapsedMS:    out.Elapsed.Milliseconds(),
		CreatedAt:    out.At,
	}
	if out.Result != nil {
		rec.ID = out.Result.ID
		rec.Texts = make(map[string]string, len(out.Result.Texts))
		for label, text := range out.Result.Texts {
			rec.Texts[string(label)] = text
		}
	}
	if out.Failure != nil {
		rec.FailureKind = string(out.Failure.Kind)
		rec.FailureLabel = string(out.Failure.Label)
		rec.Detail = out.Failure.Detail
	}
	return s.Save(ctx, rec)
}

func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("history store not initialised")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m := recordModel{
		ID:           rec.ID,
		SessionID:    rec.SessionID,
		Filename:     rec.Filename,
		Model:        rec.Model,
		SourceFormat: rec.SourceFormat,
		Width:        rec.Width,
		Height:       rec.Height,
		Status:       rec.Status,
		FailureKind:  rec.FailureKind,
		FailureLabel: rec.FailureLabel,
		Detail:       rec.Detail,
		ElapsedMS:    rec.ElapsedMS,
	}
	if !rec.CreatedAt.IsZero() {
		m.CreatedAt = rec.CreatedAt.UnixMilli()
	}
	if len(rec.Texts) > 0 {
		m.Texts = make(datatypes.JSONMap, len(rec.Texts))
		for k, v := range rec.Texts {
			m.Texts[k] = v
		}
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// RecentForSession returns the newest records of one session first. An empty
// session id matches nothing.
func (s *Store) RecentForSession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return []Record{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var models []recordModel
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(models))
	for _, m := range models {
		out = append(out, m.toRecord())
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	var m recordModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return m.toRecord(), nil
}

func (m recordModel) toRecord() Record {
	rec := Record{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Filename:     m.Filename,
		Model:        m.Model,
		SourceFormat: m.SourceFormat,
		Width:        m.Width,
		Height:       m.Height,
		Status:       m.Status,
		FailureKind:  m.FailureKind,
		FailureLabel: m.FailureLabel,
		Detail:       m.Detail,
		ElapsedMS:    m.ElapsedMS,
		CreatedAt:    time.UnixMilli(m.CreatedAt),
	}
	if len(m.Texts) > 0 {
		rec.Texts = make(map[string]string, len(m.Texts))
		for k, v := range m.Texts {
			if s, ok := v.(string); ok {
				rec.Texts[k] = s
			}
		}
	}
	return rec
}
