package conn

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Postgres wraps a gorm connection pool.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects with a DSN, e.g.
// "host=localhost user=trader dbname=journal sslmode=disable".
// The gorm logger is kept silent; callers own their own logging.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// DB returns the underlying gorm handle.
func (p *Postgres) DB() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.db
}

// Close drains the connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
