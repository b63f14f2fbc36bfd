package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// SQL is a Store backed by a single table in a SQL database via gorm.
// The built-in constructor targets SQLite; any gorm dialector works with
// NewSQLFromDB.
type SQL struct {
	db   *gorm.DB
	opts *Options
}

type sqlEntry struct {
	K string `gorm:"column:k;primaryKey"`
	V []byte `gorm:"column:v"`
}

func (sqlEntry) TableName() string { return "kv_entries" }

// SQLOptions configures the SQLite store.
type SQLOptions struct {
	// Options is the common kv options (separator, etc.).
	Options *Options

	// Path is the SQLite database file. ":memory:" opens a private
	// in-memory database.
	Path string
}

// NewSQLite opens (or creates) a SQLite database and migrates the kv table.
func NewSQLite(sopts SQLOptions) (*SQL, error) {
	if sopts.Path == "" {
		return nil, errors.New("kv: SQLOptions.Path is required")
	}
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        sopts.Path,
	}, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("kv: sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return NewSQLFromDB(db, sopts.Options)
}

// NewSQLFromDB wraps an existing gorm connection and migrates the kv table.
func NewSQLFromDB(db *gorm.DB, opts *Options) (*SQL, error) {
	if err := db.AutoMigrate(&sqlEntry{}); err != nil {
		return nil, fmt.Errorf("kv: migrate: %w", err)
	}
	return &SQL{db: db, opts: opts}, nil
}

func sqlGet(db *gorm.DB, k string) ([]byte, error) {
	var e sqlEntry
	err := db.Where("k = ?", k).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.V == nil {
		e.V = []byte{}
	}
	return e.V, nil
}

func sqlUpsert(db *gorm.DB, entries ...sqlEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&entries).Error
}

func (s *SQL) Get(ctx context.Context, key Key) ([]byte, error) {
	return sqlGet(s.db.WithContext(ctx), string(s.opts.encode(key)))
}

func (s *SQL) Set(ctx context.Context, key Key, value []byte) error {
	return sqlUpsert(s.db.WithContext(ctx), sqlEntry{K: string(s.opts.encode(key)), V: value})
}

func (s *SQL) Delete(ctx context.Context, key Key) error {
	return s.db.WithContext(ctx).Where("k = ?", string(s.opts.encode(key))).Delete(&sqlEntry{}).Error
}

// List materializes the matching rows before yielding, so callers may issue
// further reads while iterating on a single-connection database.
func (s *SQL) List(ctx context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := s.opts.prefixBytes(prefix)
	return func(yield func(Entry, error) bool) {
		q := s.db.WithContext(ctx).Model(&sqlEntry{}).Order("k")
		if len(p) > 0 {
			upper := append([]byte(nil), p...)
			upper[len(upper)-1]++
			q = q.Where("k >= ? AND k < ?", string(p), string(upper))
		}
		var rows []sqlEntry
		if err := q.Find(&rows).Error; err != nil {
			yield(Entry{}, err)
			return
		}
		for _, r := range rows {
			if !yield(Entry{Key: s.opts.decode([]byte(r.K)), Value: r.V}, nil) {
				return
			}
		}
	}
}

func (s *SQL) BatchSet(ctx context.Context, entries []Entry) error {
	rows := make([]sqlEntry, len(entries))
	for i, e := range entries {
		rows[i] = sqlEntry{K: string(s.opts.encode(e.Key)), V: e.Value}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return sqlUpsert(tx, rows...)
	})
}

func (s *SQL) BatchDelete(ctx context.Context, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	ks := make([]string, len(keys))
	for i, k := range keys {
		ks[i] = string(s.opts.encode(k))
	}
	return s.db.WithContext(ctx).Where("k IN ?", ks).Delete(&sqlEntry{}).Error
}

// Update runs fn inside a database transaction; reads go through the
// transaction so the database's own locking serializes writers.
func (s *SQL) Update(ctx context.Context, fn func(tx Txn) error) error {
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		pt := newPendingTxn(s.opts, func(k []byte) ([]byte, error) {
			return sqlGet(dbtx, string(k))
		})
		if err := fn(pt); err != nil {
			return err
		}
		var dels []string
		var sets []sqlEntry
		for _, k := range pt.order {
			if v := pt.writes[k]; v == nil {
				dels = append(dels, k)
			} else {
				sets = append(sets, sqlEntry{K: k, V: v})
			}
		}
		if len(dels) > 0 {
			if err := dbtx.Where("k IN ?", dels).Delete(&sqlEntry{}).Error; err != nil {
				return err
			}
		}
		return sqlUpsert(dbtx, sets...)
	})
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
