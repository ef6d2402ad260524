package inmemory

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"sync"

	"github.com/SharedCode/dms"
)

// ObjectStore is an in-memory dms.ObjectStore. Object summaries carry real
// MD5 digests so the SDES notification path stays exercisable in tests.
type ObjectStore struct {
	mu             sync.Mutex
	lookup         map[string][]byte
	locationPrefix string

	// PutError, when set, makes the next Put fail with it. Test hook.
	PutError error
}

// NewObjectStore instantiates an in-memory object store whose summaries use
// the given location prefix.
func NewObjectStore(locationPrefix string) *ObjectStore {
	return &ObjectStore{
		lookup:         make(map[string][]byte),
		locationPrefix: locationPrefix,
	}
}

func (o *ObjectStore) Put(ctx context.Context, key string, contents []byte) (dms.ObjectSummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.PutError != nil {
		err := o.PutError
		o.PutError = nil
		return dms.ObjectSummary{}, err
	}
	ba := make([]byte, len(contents))
	copy(ba, contents)
	o.lookup[key] = ba
	sum := md5.Sum(contents)
	return dms.ObjectSummary{
		Location:      o.locationPrefix + key,
		ContentLength: int64(len(contents)),
		ContentMd5:    base64.StdEncoding.EncodeToString(sum[:]),
		LastModified:  Now(),
	}, nil
}

func (o *ObjectStore) Remove(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lookup, key)
	return nil
}

// Fetch returns the stored object's contents, for test inspection.
func (o *ObjectStore) Fetch(key string) ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ba, ok := o.lookup[key]
	return ba, ok
}
