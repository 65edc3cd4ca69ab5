package shared

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// IngestLockName identifies the system-wide ingestion critical section.
const IngestLockName = "dre:ingest"

// IngestLockKey builds the redis key guarding a named ingestion run.
func IngestLockKey(name string) string {
	if name == "" {
		name = IngestLockName
	}
	return fmt.Sprintf("%s:lock", name)
}

// AdvisoryLockID maps a lock name onto the bigint space of pg_try_advisory_lock.
func AdvisoryLockID(name string) int64 {
	if name == "" {
		name = IngestLockName
	}
	return int64(xxhash.Sum64String(name))
}
