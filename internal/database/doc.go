// Package database manages the GORM connection pool behind the SQL-backed
// KV store: pool tuning, background health checks, and transaction
// execution with retry on transient failures.
package database
