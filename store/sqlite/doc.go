// Package sqlite is a GORM-backed report store on a local SQLite file.
//
// Reports are split over three tables: runs, node_executions and
// checkpoints. The schema is created with AutoMigrate on Start.
package sqlite
