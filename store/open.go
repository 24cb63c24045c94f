package store

import (
	"strings"

	"src.userspace.com.au/peerdb/store/memory"
	"src.userspace.com.au/peerdb/store/pgsql"
	"src.userspace.com.au/peerdb/store/sqlite"
)

// Backend labels as reported by Type
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Type returns the backend a DSN selects
func Type(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "memory:"):
		return TypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return TypePostgres
	default:
		return TypeSQLite
	}
}

// Open connects the backend selected by the DSN. Anything that is not
// memory: or a postgres URL is handed to SQLite.
func Open(dsn string) (Directory, error) {
	switch Type(dsn) {
	case TypeMemory:
		return memory.New(), nil
	case TypePostgres:
		s, err := pgsql.NewStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := sqlite.NewStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
