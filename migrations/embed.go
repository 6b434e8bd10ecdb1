// Package migrations embeds the SQL schema into the binary.
//
// Each dialect has its own directory so SQLite and PostgreSQL can use native
// column types while sharing version numbers. Importing the package
// registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/tempmon-core/internal/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

func init() {
	database.SetMigrations(files)
}
