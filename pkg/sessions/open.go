package sessions

import (
	"context"
	"fmt"
)

// Kind Which Store implementation to use.
type Kind string

const (
	KindFile     Kind = "file"
	KindMemory   Kind = "memory"
	KindPostgres Kind = "postgres"
)

// Open Create the store of the given kind. file is used by the file store, databaseURL by the postgres store.
func Open(ctx context.Context, kind Kind, file, databaseURL string) (Store, error) {
	switch kind {
	case KindFile:
		return NewFileStore(file)
	case KindMemory:
		return NewMemoryStore(), nil
	case KindPostgres:
		return NewPostgresStore(ctx, databaseURL)
	}
	return nil, fmt.Errorf("unknown session store %q", kind)
}
