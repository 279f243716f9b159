package storage

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polyflow/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - gorm-backed repository
// ═══════════════════════════════════════════════════════════════════════════════

// DB is the direct-database implementation of Repository.
type DB struct {
	db *gorm.DB
}

var _ Repository = (*DB)(nil)

// Models lists every persisted entity for migration.
func Models() []any {
	return []any{
		&types.Market{},
		&types.WatchedMarket{},
		&types.Position{},
		&types.CopyAllocation{},
		&types.LeaderTrade{},
		&types.SmartWalletTrade{},
		&types.SharedTrade{},
		&types.InvalidTrade{},
		&types.ResolvedPosition{},
		&types.User{},
		&types.WatchedAddress{},
	}
}

// New opens the database named by url. postgres:// and postgresql:// select
// PostgreSQL; anything else is treated as a SQLite path.
func New(url string) (*DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		gdb *gorm.DB
		err error
	)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		gdb, err = gorm.Open(postgres.Open(url), gcfg)
	} else {
		gdb, err = gorm.Open(sqlite.Open(url), gcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := gdb.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("✅ Database initialized")
	return &DB{db: gdb}, nil
}

// NewWithGorm wraps an already-open gorm handle (tests).
func NewWithGorm(gdb *gorm.DB) (*DB, error) {
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: gdb}, nil
}

// notFound converts gorm's sentinel into the NotFound kind.
func notFound(err error, op string) error {
	if err == gorm.ErrRecordNotFound {
		return types.E(types.KindNotFound, op, err)
	}
	return err
}
