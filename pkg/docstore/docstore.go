package docstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is implemented by anything persisted in the store. The key is the
// document's identity; the collection groups documents for queries.
type Document interface {
	DocumentKey() string
	DocumentCollection() string
}

// ConcurrencyError is returned by SaveChanges when a staged write lost the
// optimistic concurrency check. Key names the offending document so callers
// can classify the conflict.
type ConcurrencyError struct {
	Key string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency conflict on document %s", e.Key)
}

// Store is a long-lived handle safe for concurrent session creation.
type Store interface {
	OpenSession() Session
}

// Session is a unit of work scoped to a single operation. Reads go to the
// store; writes and deletes are staged and applied atomically by SaveChanges.
// Sessions are not safe for concurrent use.
type Session interface {
	// Load fetches the document at key into out. Returns false when absent.
	// The document's version is remembered for the concurrency check at
	// SaveChanges time.
	Load(ctx context.Context, key string, out any) (bool, error)

	// LoadMany fetches the documents at keys, invoking each per document
	// found. Missing keys are skipped.
	LoadMany(ctx context.Context, keys []string, each func(key string, raw json.RawMessage) error) error

	// Query starts a filterable query over a collection.
	Query(collection string) *Query

	// Store stages a write. A document whose key was never loaded in this
	// session is treated as a create and conflicts with any existing document
	// at that key.
	Store(doc Document)

	// Delete stages deletion of a document.
	Delete(doc Document)

	// DeleteKey stages deletion by key. Absent keys are ignored at commit.
	DeleteKey(key string)

	// SaveChanges applies all staged writes atomically. Either every staged
	// write lands or none does. Returns *ConcurrencyError when a write lost
	// the optimistic concurrency check.
	SaveChanges(ctx context.Context) error
}
