package database

import "errors"

// Domain-specific errors for the database package.
var (
	// ErrUnsupportedDriver is returned when database.driver names an unknown dialect.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")

	// ErrMissingDSN is returned when the postgres dialect has no connection string.
	ErrMissingDSN = errors.New("database: postgres requires a dsn")

	// ErrDuplicateMigration is returned when two up files share a version.
	ErrDuplicateMigration = errors.New("database: duplicate migration version")

	// ErrMigrationMissing is returned when an applied version has no file.
	ErrMigrationMissing = errors.New("database: applied migration not found")

	// ErrIrreversibleMigration is returned when rolling back a migration without a down file.
	ErrIrreversibleMigration = errors.New("database: migration has no down file")
)
