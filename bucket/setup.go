// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucket

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/bitmark-inc/logger"
	gocache "github.com/patrickmn/go-cache"

	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/storage"
)

// separates the bucket name from the request key inside store keys
const keySeparator = byte(0)

type globalDataType struct {
	sync.RWMutex

	log  *logger.L
	memo *gocache.Cache

	// set once during initialise
	initialised bool
}

var globalData globalDataType

// Initialise - set up the bucket system
//
// memoTTL bounds how long a read can be served from the in-memory
// front without touching the store; zero disables memoization
func Initialise(memoTTL time.Duration) error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	globalData.log = logger.New("bucket")
	globalData.log.Info("starting…")

	if memoTTL > 0 {
		globalData.memo = gocache.New(memoTTL, 2*memoTTL)
	}

	globalData.initialised = true

	return nil
}

// Finalise - shut down the bucket system
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")

	if nil != globalData.memo {
		globalData.memo.Flush()
		globalData.memo = nil
	}
	globalData.initialised = false

	return nil
}

// Bucket - handle to one named bucket
type Bucket struct {
	name string
}

// Key - request identity inside a bucket
//
// requests are identified by method and path+query; the scheme and
// host never participate because cross-origin requests are not
// intercepted at all
func Key(method string, path string) string {
	return method + " " + path
}

// Open - create or open a named bucket
func Open(name string) (*Bucket, error) {
	if err := validateName(name); nil != err {
		return nil, err
	}
	globalData.RLock()
	defer globalData.RUnlock()
	if !globalData.initialised {
		return nil, fault.NotInitialised
	}

	registryKey := []byte(name)
	if !storage.Pool.Buckets.Has(registryKey) {
		createdAt := make([]byte, 8)
		binary.BigEndian.PutUint64(createdAt, uint64(time.Now().UnixMilli()))
		storage.Pool.Buckets.Put(registryKey, createdAt)
		globalData.log.Infof("created bucket: %q", name)
	}

	return &Bucket{name: name}, nil
}

// Name - the bucket's full name
func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) entryKey(requestKey string) []byte {
	key := make([]byte, 0, len(b.name)+1+len(requestKey))
	key = append(key, b.name...)
	key = append(key, keySeparator)
	key = append(key, requestKey...)
	return key
}

func (b *Bucket) memoKey(requestKey string) string {
	return b.name + "\x00" + requestKey
}

// Put - upsert a response snapshot under a request identity
//
// only successful responses may be stored; callers fall back to the
// previous entry (if any) on network failure, so a failed fetch can
// never corrupt the store
func (b *Bucket) Put(requestKey string, response *CachedResponse) error {
	if response.Status < 200 || response.Status >= 400 {
		return fault.NotCacheable
	}

	// stamp a copy so the memoized and stored snapshots agree
	snapshot := *response
	if 0 == snapshot.StoredAt {
		snapshot.StoredAt = time.Now().UnixMilli()
	}

	data, err := encodeEntry(&snapshot)
	if nil != err {
		return err
	}

	globalData.RLock()
	defer globalData.RUnlock()
	if !globalData.initialised {
		return fault.NotInitialised
	}

	storage.Pool.Entries.Put(b.entryKey(requestKey), data)

	// write through so an immediate read sees the new entry
	if nil != globalData.memo {
		globalData.memo.Set(b.memoKey(requestKey), &snapshot, gocache.DefaultExpiration)
	}

	return nil
}

// Get - look up a response snapshot
func (b *Bucket) Get(requestKey string) (*CachedResponse, error) {
	globalData.RLock()
	defer globalData.RUnlock()
	if !globalData.initialised {
		return nil, fault.NotInitialised
	}

	if nil != globalData.memo {
		if cached, found := globalData.memo.Get(b.memoKey(requestKey)); found {
			return cached.(*CachedResponse), nil
		}
	}

	data := storage.Pool.Entries.Get(b.entryKey(requestKey))
	if nil == data {
		return nil, fault.EntryNotFound
	}

	response, err := decodeEntry(data)
	if nil != err {
		globalData.log.Errorf("corrupt entry: bucket: %q  key: %q", b.name, requestKey)
		return nil, err
	}

	if nil != globalData.memo {
		globalData.memo.Set(b.memoKey(requestKey), response, gocache.DefaultExpiration)
	}

	return response, nil
}

// Has - check for a request identity without decoding
func (b *Bucket) Has(requestKey string) bool {
	globalData.RLock()
	defer globalData.RUnlock()
	if !globalData.initialised {
		return false
	}
	if nil != globalData.memo {
		if _, found := globalData.memo.Get(b.memoKey(requestKey)); found {
			return true
		}
	}
	return storage.Pool.Entries.Has(b.entryKey(requestKey))
}

// Size - number of entries in the bucket
func (b *Bucket) Size() int {
	count := 0
	prefix := append([]byte(b.name), keySeparator)
	storage.Pool.Entries.Range(prefix, func(key []byte, value []byte) bool {
		count += 1
		return true
	})
	return count
}

// Delete - remove a bucket and all of its entries
func Delete(name string) error {
	if err := validateName(name); nil != err {
		return err
	}
	globalData.Lock()
	defer globalData.Unlock()
	if !globalData.initialised {
		return fault.NotInitialised
	}

	prefix := append([]byte(name), keySeparator)
	n := storage.Pool.Entries.DeletePrefixed(prefix)
	storage.Pool.Buckets.Delete([]byte(name))

	// coarse invalidation: bucket deletion happens on version
	// transitions, not on the request path
	if nil != globalData.memo {
		globalData.memo.Flush()
	}

	globalData.log.Infof("deleted bucket: %q  entries: %d", name, n)
	return nil
}

// AllNames - every registered bucket, in name order
func AllNames() []string {
	globalData.RLock()
	defer globalData.RUnlock()
	if !globalData.initialised {
		return nil
	}

	names := []string{}
	storage.Pool.Buckets.Range(nil, func(key []byte, value []byte) bool {
		names = append(names, string(key))
		return true
	})
	return names
}

// SweepExcept - delete every bucket owned by prefix that is not in
// the keep set
//
// this is the activation cleanup: after a successful sweep exactly
// the kept buckets remain for this application prefix
func SweepExcept(prefix string, keep ...string) ([]string, error) {
	if "" == prefix {
		return nil, fault.InvalidBucketPrefix
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		keepSet[name] = struct{}{}
	}

	deleted := []string{}
	for _, name := range AllNames() {
		if !OwnedBy(name, prefix) {
			continue
		}
		if _, ok := keepSet[name]; ok {
			continue
		}
		if err := Delete(name); nil != err {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
