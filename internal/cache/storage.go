package cache

import "fmt"

const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewStorage creates the storage for a backend name.
// location is the cache folder for disk, and the database file for sqlite
func NewStorage(backend, location string) (Storage, error) {
	switch backend {
	case BackendDisk:
		disk := NewDisk(location)
		if err := disk.Init(); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		return disk, nil
	case BackendSQLite:
		return NewSQLite(location)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
}
