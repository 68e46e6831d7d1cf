// Package storage provides GORM-backed persistence for crewrun.
//
// This package includes:
//   - GormStorage: the durable job table behind the registry (core.JobStore)
//   - CheckpointStore: a database implementation of core.CheckpointStore
//   - Open and pool configuration for SQLite and PostgreSQL
//
// The file-backed checkpoint store lives in pkg/checkpoint.
package storage
