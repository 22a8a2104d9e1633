// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucket_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
)

func TestNames(t *testing.T) {
	assert.Equal(t, "upi2qr-static-v1", bucket.StaticName("upi2qr", "v1"), "static name")
	assert.Equal(t, "upi2qr-dynamic-v1", bucket.DynamicName("upi2qr", "v1"), "dynamic name")

	assert.True(t, bucket.OwnedBy("upi2qr-static-v1", "upi2qr"), "owned")
	assert.True(t, bucket.OwnedBy("upi2qr-dynamic-v7", "upi2qr"), "owned")
	assert.False(t, bucket.OwnedBy("other-static-v1", "upi2qr"), "not owned")
	assert.False(t, bucket.OwnedBy("upi2qrx-static-v1", "upi2qr"), "prefix must match a whole segment")
}

func TestPutGetRoundTrip(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, err := bucket.Open(bucket.DynamicName("upi2qr", "v1"))
	require.NoError(t, err, "open failed")

	key := bucket.Key("GET", "/assets/index.css")
	response := &bucket.CachedResponse{
		Status: 200,
		Header: map[string]string{"Content-Type": "text/css"},
		Body:   []byte("body{margin:0}"),
	}

	require.NoError(t, b.Put(key, response), "put failed")

	stored, err := b.Get(key)
	require.NoError(t, err, "get failed")
	assert.Equal(t, 200, stored.Status, "status")
	assert.Equal(t, "text/css", stored.ContentType(), "content type")
	assert.Equal(t, []byte("body{margin:0}"), stored.Body, "body")
	assert.NotZero(t, stored.StoredAt, "stored timestamp")
	assert.True(t, b.Has(key), "has")
}

// a memoized read and a store-backed read must return the same
// snapshot, including the stamped timestamp
func TestMemoMatchesStore(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, err := bucket.Open(bucket.DynamicName("upi2qr", "v1"))
	require.NoError(t, err, "open failed")

	key := bucket.Key("GET", "/app.js")
	require.NoError(t, b.Put(key, &bucket.CachedResponse{
		Status: 200,
		Header: map[string]string{"Content-Type": "application/javascript"},
		Body:   []byte("console.log(1)"),
	}), "put failed")

	warm, err := b.Get(key)
	require.NoError(t, err, "warm read")
	assert.NotZero(t, warm.StoredAt, "warm stored timestamp")

	// wait out the memo so the next read hits the store
	time.Sleep(2 * memoTTL)

	cold, err := b.Get(key)
	require.NoError(t, err, "cold read")
	assert.Equal(t, warm.StoredAt, cold.StoredAt, "timestamps differ")
	assert.Equal(t, warm.Body, cold.Body, "bodies differ")
}

// reading the same entry twice must return identical bytes
func TestIdempotentRead(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, _ := bucket.Open(bucket.DynamicName("upi2qr", "v1"))
	key := bucket.Key("GET", "/icon-192.png")
	_ = b.Put(key, &bucket.CachedResponse{
		Status: 200,
		Header: map[string]string{"Content-Type": "image/png"},
		Body:   []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a},
	})

	first, err := b.Get(key)
	require.NoError(t, err, "first read")
	second, err := b.Get(key)
	require.NoError(t, err, "second read")
	assert.True(t, bytes.Equal(first.Body, second.Body), "reads differ")
}

// the latest successful response overwrites the previous entry
func TestUpsert(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, _ := bucket.Open(bucket.DynamicName("upi2qr", "v1"))
	key := bucket.Key("GET", "/api/status")

	_ = b.Put(key, &bucket.CachedResponse{Status: 200, Body: []byte("old")})
	_ = b.Put(key, &bucket.CachedResponse{Status: 200, Body: []byte("new")})

	stored, err := b.Get(key)
	require.NoError(t, err, "get failed")
	assert.Equal(t, []byte("new"), stored.Body, "upsert failed")
	assert.Equal(t, 1, b.Size(), "duplicate entry")
}

func TestNotCacheable(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, _ := bucket.Open(bucket.DynamicName("upi2qr", "v1"))
	key := bucket.Key("GET", "/api/flaky")

	_ = b.Put(key, &bucket.CachedResponse{Status: 200, Body: []byte("good")})

	// an error response must never replace a good entry
	err := b.Put(key, &bucket.CachedResponse{Status: 502, Body: []byte("bad gateway")})
	assert.Equal(t, fault.NotCacheable, err, "error status accepted")

	stored, err := b.Get(key)
	require.NoError(t, err, "get failed")
	assert.Equal(t, []byte("good"), stored.Body, "entry corrupted")
}

func TestMiss(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, _ := bucket.Open(bucket.DynamicName("upi2qr", "v1"))

	_, err := b.Get(bucket.Key("GET", "/never-stored"))
	assert.Equal(t, fault.EntryNotFound, err, "wrong miss error")
	assert.True(t, fault.IsErrNotFound(err), "miss must be a not-found class")
	assert.False(t, b.Has(bucket.Key("GET", "/never-stored")), "phantom entry")
}

// bodies above the threshold survive the compression round trip
func TestLargeBodyRoundTrip(t *testing.T) {
	setup(t)
	defer teardown(t)

	b, _ := bucket.Open(bucket.StaticName("upi2qr", "v1"))
	key := bucket.Key("GET", "/assets/index.js")

	body := bytes.Repeat([]byte("function renderQR(upiString) { /* ... */ }\n"), 200)
	require.NoError(t, b.Put(key, &bucket.CachedResponse{
		Status: 200,
		Header: map[string]string{"Content-Type": "application/javascript"},
		Body:   body,
	}), "put failed")

	stored, err := b.Get(key)
	require.NoError(t, err, "get failed")
	assert.Equal(t, body, stored.Body, "body mismatch")
}

func TestInvalidName(t *testing.T) {
	setup(t)
	defer teardown(t)

	_, err := bucket.Open("")
	assert.Equal(t, fault.InvalidBucketName, err, "empty name")

	_, err = bucket.Open("bad\x00name")
	assert.Equal(t, fault.InvalidBucketName, err, "NUL in name")
}

func TestSweepExcept(t *testing.T) {
	setup(t)
	defer teardown(t)

	oldStatic, _ := bucket.Open(bucket.StaticName("upi2qr", "v1"))
	oldDynamic, _ := bucket.Open(bucket.DynamicName("upi2qr", "v1"))
	newStatic, _ := bucket.Open(bucket.StaticName("upi2qr", "v2"))
	newDynamic, _ := bucket.Open(bucket.DynamicName("upi2qr", "v2"))
	foreign, _ := bucket.Open("other-static-v1")

	for _, b := range []*bucket.Bucket{oldStatic, oldDynamic, newStatic, newDynamic, foreign} {
		_ = b.Put(bucket.Key("GET", "/"), &bucket.CachedResponse{Status: 200, Body: []byte(b.Name())})
	}

	deleted, err := bucket.SweepExcept("upi2qr", newStatic.Name(), newDynamic.Name())
	require.NoError(t, err, "sweep failed")
	assert.ElementsMatch(t, []string{"upi2qr-static-v1", "upi2qr-dynamic-v1"}, deleted, "wrong buckets swept")

	remaining := bucket.AllNames()
	assert.ElementsMatch(t,
		[]string{"other-static-v1", "upi2qr-dynamic-v2", "upi2qr-static-v2"},
		remaining, "wrong survivors")

	// swept entries are gone, kept entries intact
	assert.False(t, oldStatic.Has(bucket.Key("GET", "/")), "stale entry")
	stored, err := newStatic.Get(bucket.Key("GET", "/"))
	require.NoError(t, err, "kept bucket lost entries")
	assert.Equal(t, []byte("upi2qr-static-v2"), stored.Body, "kept entry damaged")

	// idempotent: a second sweep removes nothing
	deleted, err = bucket.SweepExcept("upi2qr", newStatic.Name(), newDynamic.Name())
	require.NoError(t, err, "second sweep failed")
	assert.Empty(t, deleted, "second sweep must be a no-op")
}
