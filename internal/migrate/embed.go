package migrate

import (
	"embed"
	"io/fs"
)

//go:embed sql/migrations/*.sql
var migrationFiles embed.FS

//go:embed sql/seeds/*.sql
var seedFiles embed.FS

// Migrations returns the schema migrations compiled into the binary.
func Migrations() fs.FS {
	sub, _ := fs.Sub(migrationFiles, "sql/migrations")
	return sub
}

// Seeds returns the system role and permission seeds.
func Seeds() fs.FS {
	sub, _ := fs.Sub(seedFiles, "sql/seeds")
	return sub
}
