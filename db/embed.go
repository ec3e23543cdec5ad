// Package db provides the embedded PostgreSQL migrations and seed catalog.
package db

import "embed"

// Migrations holds the versioned up/down SQL files read by golang-migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Catalog is the default product and coupon set loaded by seed-db.
//
//go:embed seed/catalog.json
var Catalog []byte
