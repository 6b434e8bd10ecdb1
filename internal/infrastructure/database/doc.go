// Package database provides relational store connectivity for tempmon.
//
// Two dialects are supported behind the same *DB wrapper:
//
//	sqlite    mattn/go-sqlite3, WAL mode, busy timeout, single writer
//	postgres  jackc/pgx/v5 through database/sql ("pgx" driver)
//
// Queries are written once with ? placeholders. The wrapper's ExecContext,
// QueryContext and QueryRowContext rebind them; statements run on a *sql.Tx
// must be passed through db.Rebind explicitly. Timestamps go through
// TimeArg so that SQLite stores fixed-width UTC text that sorts and compares
// correctly in BETWEEN clauses.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/tempmon.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are embedded by the migrations package, one subdirectory per
// dialect, named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql. Each migration is applied in its own transaction and recorded
// in schema_migrations.
package database
