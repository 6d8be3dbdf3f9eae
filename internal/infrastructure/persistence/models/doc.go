// Package models contains the GORM models behind the SQL store and queue.
// They are kept apart from the domain types so the domain carries no ORM
// tags; each model converts with ToDomain and a ...FromDomain constructor.
//
// The postgres schema for these tables lives in the migration package.
// sqlite databases are created from All by AutoMigrate.
package models
