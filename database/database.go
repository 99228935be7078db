// File: /database/database.go
package database

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"tourops-api/models"
)

// Initialize opens a connection for the configured driver (mysql, postgres or sqlite)
func Initialize(driver, databaseURL string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql", "":
		dialector = mysql.Open(databaseURL)
	case "postgres":
		dialector = postgres.Open(databaseURL)
	case "sqlite":
		// local development and tests; row locks are a no-op here
		dialector = sqlite.Open(databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	logLevel := logger.Warn
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logLevel),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// OpenInMemory opens a named in-memory sqlite database with every table
// migrated. Connections are capped at one so the whole process shares it.
func OpenInMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := Initialize("sqlite", dsn, false)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, zap.NewNop()); err != nil {
		return nil, err
	}
	return db, nil
}

// Models lists every table in migration order
func Models() []interface{} {
	return []interface{}{
		&models.Tenant{},
		&models.Role{},
		&models.User{},
		&models.Bus{},
		&models.Trip{},
		&models.TripBus{},
		&models.Round{},
		&models.RoundBus{},
		&models.Passenger{},
		&models.PassengerBusAssignment{},
		&models.PassengerTransfer{},
		&models.Transaction{},
	}
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	addCustomIndexes(db, log)
	return nil
}

func addCustomIndexes(db *gorm.DB, log *zap.Logger) {
	statements := []string{
		"CREATE INDEX IF NOT EXISTS idx_rounds_trip_status ON rounds(trip_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_round_buses_round_final ON round_buses(round_id, finalized_at)",
		"CREATE INDEX IF NOT EXISTS idx_trips_tenant_start ON trips(tenant_id, start_date DESC)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_check_in ON transactions(check_in DESC)",
		"CREATE INDEX IF NOT EXISTS idx_passenger_transfers_to ON passenger_transfers(to_trip_bus_id)",
	}

	for _, stmt := range statements {
		// MySQL has no IF NOT EXISTS for indexes; a failure here is not fatal
		if err := db.Exec(stmt).Error; err != nil {
			log.Warn("could not create index", zap.String("statement", stmt), zap.Error(err))
		}
	}
}

// SeedData creates the built-in roles and, when the user table is empty, a
// superuser with the given credentials.
func SeedData(db *gorm.DB, adminUsername, adminEmail, adminPassword string, log *zap.Logger) error {
	roles := []models.Role{
		{Name: models.RoleAdmin, Description: "Full access to every tenant"},
		{Name: models.RoleTourManager, Description: "Manages trips of a tenant"},
		{Name: models.RoleFleetLead, Description: "Leads a bus and finalizes rounds"},
		{Name: models.RoleDriver, Description: "Drives a bus"},
	}
	for _, role := range roles {
		role := role
		if err := db.Where(models.Role{Name: role.Name}).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
	}

	var userCount int64
	if err := db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		return err
	}
	if userCount > 0 {
		log.Info("database already has users, skipping admin seed")
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	var adminRole models.Role
	if err := db.Where("name = ?", models.RoleAdmin).First(&adminRole).Error; err != nil {
		return err
	}

	admin := models.User{
		Username:    adminUsername,
		Email:       adminEmail,
		Name:        "Administrator",
		Password:    string(hashed),
		RoleID:      &adminRole.ID,
		IsActive:    true,
		IsStaff:     true,
		IsSuperuser: true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	log.Info("database seeded", zap.String("admin", adminUsername))
	return nil
}
