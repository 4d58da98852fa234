// Package storage defines the storage capability the relay core consumes
// for timeshift persistence and a local-disk implementation of it.
package storage

import (
	"time"
)

// Backend is the capability the relay core consumes for durable segment
// storage: put/get/delete by key, plus a time-ranged prefix listing for
// segment queries. Satisfied here by Disk. A Backend satisfies
// pkg/timeshift's FileDeleter but not its Persister; SegmentPersister
// adapts a Backend into a Persister for a Ring.
type Backend interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	List(prefix string, from, to time.Time) ([]Entry, error)
}

// Entry is one object a List call returns: its key and the timestamp
// embedded in its path.
type Entry struct {
	Key       string
	Timestamp time.Time
	Size      int64
}
