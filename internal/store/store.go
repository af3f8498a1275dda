package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"ambia/internal/database"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique constraint
	ErrDuplicate = errors.New("duplicate row")
)

// Store bundles the SQL persistence collaborators over one connection pool
type Store struct {
	Activity *ActivityStore
	Cache    *PageCacheStore
	Ambient  *AmbientStore
	Calendar *CalendarStore
	Queue    *GenerationQueueStore
}

// New builds every table store over db
func New(db *database.DB) *Store {
	return &Store{
		Activity: NewActivityStore(db),
		Cache:    NewPageCacheStore(db),
		Ambient:  NewAmbientStore(db),
		Calendar: NewCalendarStore(db),
		Queue:    NewGenerationQueueStore(db),
	}
}

// Timestamps are stored as unix milliseconds so both dialects compare them the same way
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// isUniqueViolation recognises duplicate-key errors from either driver
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// truncate caps s at n runes
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
