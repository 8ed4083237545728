package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config holds database configuration
type Config struct {
	Driver   string `toml:"driver"`
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"name"`
	SSLMode  string `toml:"sslmode"`
	Debug    bool   `toml:"debug"`
}

// Store persists message records through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}
	gormLogger := logger.New(
		log.New(os.Stderr, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func dialectorFor(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(cfg.DBName), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return mysql.Open(dsn), nil
	case "postgres", "":
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, sslMode)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Migrate creates or updates the records table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("migrate records: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AllByReceivedDesc returns every record, newest first.
func (s *Store) AllByReceivedDesc(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Order("received_date DESC").Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Get returns the record with the given message ID.
func (s *Store) Get(ctx context.Context, messageID string) (Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("record %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get record %s: %w", messageID, err)
	}
	return rec, nil
}

// ErrNotFound is returned when no record has the requested message ID.
var ErrNotFound = errors.New("record not found")

// SetRead updates the read flag of one record.
func (s *Store) SetRead(ctx context.Context, messageID string, read bool) error {
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("message_id = ?", messageID).
		Update("is_read", read).Error
	if err != nil {
		return fmt.Errorf("set read %s: %w", messageID, err)
	}
	return nil
}

// MoveLabels adds one label and removes another from a stored record in a
// single transaction. Either name may be empty.
func (s *Store) MoveLabels(ctx context.Context, messageID, add, remove string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("message_id = ?", messageID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next := make(Labels, 0, len(rec.Labels)+1)
		for _, l := range rec.Labels {
			if l != remove && l != add {
				next = append(next, l)
			}
		}
		if add != "" {
			next = append(next, add)
		}
		return tx.Model(&Record{}).Where("id = ?", rec.ID).Update("labels", next).Error
	})
	if err != nil {
		return fmt.Errorf("move labels %s: %w", messageID, err)
	}
	return nil
}

// Upsert inserts a record or, when the message ID exists, refreshes its
// read flag and labels.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_read", "labels"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.MessageID, err)
	}
	return nil
}
