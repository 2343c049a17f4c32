// Package db holds the postgres schema migrations.
package db

import (
	"embed"
	"io/fs"
)

//go:embed pg/*.sql
var migrations embed.FS

// Migrations returns the embedded migration files rooted at the pg folder.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "pg")
	if err != nil {
		panic(err)
	}
	return sub
}
