package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/postsync/internal/postsync"
)

// Ensure Repo implements the repository interfaces
var (
	_ postsync.PostRepo = (*Repo)(nil)
	_ postsync.LinkRepo = (*Repo)(nil)
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the sqlite database at path with foreign keys enforced.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	return dbx, nil
}
