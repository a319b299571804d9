package natsclient

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEntry implements jetstream.KeyValueEntry for the fields KVStore reads.
type fakeEntry struct {
	jetstream.KeyValueEntry
	key      string
	value    []byte
	revision uint64
}

func (e *fakeEntry) Key() string      { return e.key }
func (e *fakeEntry) Value() []byte    { return e.value }
func (e *fakeEntry) Revision() uint64 { return e.revision }

// fakeBucket implements the subset of jetstream.KeyValue that KVStore uses.
type fakeBucket struct {
	jetstream.KeyValue
	entries  map[string]*fakeEntry
	revision uint64
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{entries: make(map[string]*fakeEntry)}
}

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	entry, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return entry, nil
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.revision++
	b.entries[key] = &fakeEntry{key: key, value: value, revision: b.revision}
	return b.revision, nil
}

func (b *fakeBucket) Create(_ context.Context, key string, value []byte) (uint64, error) {
	if _, exists := b.entries[key]; exists {
		return 0, jetstream.ErrKeyExists
	}
	return b.Put(context.Background(), key, value)
}

func (b *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	if _, exists := b.entries[key]; !exists {
		return jetstream.ErrKeyNotFound
	}
	delete(b.entries, key)
	return nil
}

func TestKVStoreGetMissingKey(t *testing.T) {
	kv := NewKVStore(newFakeBucket())

	_, err := kv.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}

func TestKVStorePutAndGet(t *testing.T) {
	kv := NewKVStore(newFakeBucket())

	rev, err := kv.Put(context.Background(), "k", []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	entry, err := kv.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), entry.Value)
	assert.Equal(t, uint64(1), entry.Revision)
}

func TestKVStoreCreateIsSetIfAbsent(t *testing.T) {
	kv := NewKVStore(newFakeBucket())

	_, err := kv.Create(context.Background(), "k", []byte("first"))
	require.NoError(t, err)

	_, err = kv.Create(context.Background(), "k", []byte("second"))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	entry, err := kv.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), entry.Value)
}

func TestKVStoreDelete(t *testing.T) {
	kv := NewKVStore(newFakeBucket())

	_, err := kv.Put(context.Background(), "k", []byte("v"))
	require.NoError(t, err)

	require.NoError(t, kv.Delete(context.Background(), "k"))
	assert.ErrorIs(t, kv.Delete(context.Background(), "k"), ErrKVKeyNotFound)
}

func TestKVStoreValueSizeLimit(t *testing.T) {
	kv := NewKVStore(newFakeBucket(), func(o *KVOptions) {
		o.MaxValueSize = 4
	})

	_, err := kv.Put(context.Background(), "k", []byte("too large"))
	assert.Error(t, err)

	_, err = kv.Create(context.Background(), "k", []byte("too large"))
	assert.Error(t, err)
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.True(t, IsKVConflictError(jetstream.ErrKeyExists))
	assert.True(t, IsKVConflictError(errors.New("wrong last sequence: 12")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.False(t, IsKVConflictError(errors.New("boom")))
}
