package database

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinicflow/clinicflow/internal/config"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:                              true,
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: false,
		DisableAutomaticPing:                     false,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// StartPoolStats samples the pool's open-connection count into gauge every
// interval, for the lifetime of the process.
func StartPoolStats(db *gorm.DB, gauge prometheus.Gauge, interval time.Duration) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	go func() {
		for range time.Tick(interval) {
			gauge.Set(float64(sqlDB.Stats().OpenConnections))
		}
	}()
}

// Migrate creates the logical schemas, auto-migrates the given models, and
// applies the scheduling indexes. Models are passed in by the caller so this
// package stays free of domain imports.
func Migrate(db *gorm.DB, log *zap.Logger, models ...any) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"clinical", "auth", "audit"} // logical namespace
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		query string
	}{
		// Conflict detection scans one doctor's (or patient's) slots for a
		// single day, locked FOR UPDATE; both indexes are partial on the only
		// status the detector looks at.
		{
			name:  "idx_appointments_doctor_day",
			query: `CREATE INDEX IF NOT EXISTS idx_appointments_doctor_day ON clinical.appointments (doctor_id, date, time) WHERE status = 'scheduled'`,
		},
		{
			name:  "idx_appointments_patient_day",
			query: `CREATE INDEX IF NOT EXISTS idx_appointments_patient_day ON clinical.appointments (patient_id, date, time) WHERE status = 'scheduled'`,
		},
		{
			name:  "idx_records_appointment",
			query: `CREATE INDEX IF NOT EXISTS idx_records_appointment ON clinical.records (appointment_id) WHERE appointment_id IS NOT NULL`,
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
