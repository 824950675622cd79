package session

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/MarcoPoloResearchLab/arkiv/backend/internal/documents"
)

// fakeStore is an in-memory document store holding a single document.
type fakeStore struct {
	mu          sync.Mutex
	fields      map[string]json.RawMessage
	version     int64
	writes      []map[string]json.RawMessage
	writeErr    error
	writeGate   chan struct{}
	subscribers map[int]chan documents.Document
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{subscribers: map[int]chan documents.Document{}}
}

func (f *fakeStore) Write(ctx context.Context, key documents.Key, fields map[string]json.RawMessage, mode documents.WriteMode) (documents.Document, error) {
	f.mu.Lock()
	gate := f.writeGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return documents.Document{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, maps.Clone(fields))
	if f.writeErr != nil {
		return documents.Document{}, f.writeErr
	}
	return f.commitLocked(key, fields, mode), nil
}

// publishRemote simulates another client writing the document.
func (f *fakeStore) publishRemote(key documents.Key, fields map[string]json.RawMessage) documents.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commitLocked(key, fields, documents.WriteReplace)
}

func (f *fakeStore) commitLocked(key documents.Key, fields map[string]json.RawMessage, mode documents.WriteMode) documents.Document {
	next := map[string]json.RawMessage{}
	if mode == documents.WriteMergeShallow {
		maps.Copy(next, f.fields)
	}
	maps.Copy(next, fields)
	f.fields = next
	f.version++
	document := f.currentLocked(key)
	for _, subscriber := range f.subscribers {
		select {
		case subscriber <- document.Clone():
		default:
		}
	}
	return document
}

func (f *fakeStore) currentLocked(key documents.Key) documents.Document {
	return documents.Document{
		Key:     key,
		Fields:  maps.Clone(f.fields),
		Version: f.version,
		Exists:  f.version > 0,
	}
}

func (f *fakeStore) Subscribe(ctx context.Context, key documents.Key) (<-chan documents.Document, func(), error) {
	subscriptionCtx, cancel := context.WithCancel(ctx)
	stream := make(chan documents.Document, 32)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subscribers[id] = stream
	stream <- f.currentLocked(key)
	f.mu.Unlock()

	go func() {
		<-subscriptionCtx.Done()
		f.mu.Lock()
		delete(f.subscribers, id)
		close(stream)
		f.mu.Unlock()
	}()
	return stream, cancel, nil
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeStore) lastWrite() map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeStore) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}
