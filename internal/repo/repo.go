package repo

import (
	"errors"

	"gorm.io/gorm"
)

// Sentinel errors shared by the repositories. Services translate these into
// the externally visible error kinds.
var (
	ErrNotFound = errors.New("repo: not found")
	// ErrStale is returned by guarded updates when the row was already
	// consumed or revoked by a concurrent writer.
	ErrStale = errors.New("repo: record already consumed")
)

// GormRepo bundles every ledger against one injected connection pool.
// There is deliberately no package-level DB handle.
type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}
