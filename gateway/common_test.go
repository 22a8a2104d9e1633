// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/gateway"
	"github.com/upi2qr/upi2qrd/queue"
	"github.com/upi2qr/upi2qrd/storage"
)

const testingDirName = "testing"

// fakeFetcher - scripted upstream: serves canned responses keyed by
// "METHOD path" and can be switched offline
type fakeFetcher struct {
	sync.Mutex
	offline   bool
	responses map[string]*bucket.CachedResponse
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*bucket.CachedResponse),
	}
}

func (f *fakeFetcher) set(method string, requestPath string, status int, contentType string, body string) {
	f.Lock()
	defer f.Unlock()
	f.responses[method+" "+requestPath] = &bucket.CachedResponse{
		Status: status,
		Header: map[string]string{"Content-Type": contentType},
		Body:   []byte(body),
	}
}

func (f *fakeFetcher) setOffline(offline bool) {
	f.Lock()
	defer f.Unlock()
	f.offline = offline
}

func (f *fakeFetcher) callCount() int {
	f.Lock()
	defer f.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) called(target string) bool {
	f.Lock()
	defer f.Unlock()
	for _, call := range f.calls {
		if call == target {
			return true
		}
	}
	return false
}

func (f *fakeFetcher) Fetch(ctx context.Context, method string, requestPath string, header http.Header) (*bucket.CachedResponse, error) {
	f.Lock()
	defer f.Unlock()

	f.calls = append(f.calls, method+" "+requestPath)

	if f.offline {
		return nil, fault.NetworkUnavailable
	}

	if response, ok := f.responses[method+" "+requestPath]; ok {
		copied := *response
		return &copied, nil
	}
	return &bucket.CachedResponse{
		Status: http.StatusNotFound,
		Header: map[string]string{"Content-Type": "text/plain"},
		Body:   []byte("not found"),
	}, nil
}

type fixture struct {
	upstream *fakeFetcher
	static   *bucket.Bucket
	dynamic  *bucket.Bucket
}

func setup(t *testing.T) *fixture {
	removeFiles()
	_ = os.Mkdir(testingDirName, 0o700)

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "gateway_test.log",
		Size:      1048576,
		Count:     10,
		Console:   false,
		Levels: map[string]string{
			logger.DefaultTag: "critical",
		},
	}

	if err := logger.Initialise(logging); nil != err {
		t.Fatalf("logger setup failed with error: %s", err)
	}
	if err := storage.Initialise(testingDirName); nil != err {
		t.Fatalf("storage initialise error: %s", err)
	}
	if err := bucket.Initialise(0); nil != err { // no memoization: tests see the store directly
		t.Fatalf("bucket initialise error: %s", err)
	}
	if err := queue.Initialise(); nil != err {
		t.Fatalf("queue initialise error: %s", err)
	}

	upstream := newFakeFetcher()

	err := gateway.Initialise(&gateway.Configuration{
		Upstream:     upstream,
		Routes:       []string{"/", "/create", "/pay"},
		APIPrefix:    "/api/",
		AppShell:     "/index.html",
		OfflinePage:  "/offline.html",
		FallbackIcon: "/icon-192.png",
		QueuePayment: queue.Add,
		Status: func() map[string]interface{} {
			return map[string]interface{}{"mode": "Active"}
		},
	})
	if nil != err {
		t.Fatalf("gateway initialise error: %s", err)
	}

	static, err := bucket.Open("upi2qr-static-v1")
	if nil != err {
		t.Fatalf("bucket open error: %s", err)
	}
	dynamic, err := bucket.Open("upi2qr-dynamic-v1")
	if nil != err {
		t.Fatalf("bucket open error: %s", err)
	}
	if err := gateway.SetBuckets(static, dynamic); nil != err {
		t.Fatalf("set buckets error: %s", err)
	}

	return &fixture{
		upstream: upstream,
		static:   static,
		dynamic:  dynamic,
	}
}

func teardown(t *testing.T) {
	_ = gateway.Finalise()
	_ = queue.Finalise()
	_ = bucket.Finalise()
	storage.Finalise()
	logger.Finalise()
	removeFiles()
}

func removeFiles() {
	os.RemoveAll(testingDirName)
}

// issue one request through the full handler
func do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	gateway.Handle(w, r)
	return w
}

func getRequest(requestPath string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, requestPath, nil)
	for name, value := range headers {
		r.Header.Set(name, value)
	}
	return r
}

func navigationRequest(requestPath string) *http.Request {
	return getRequest(requestPath, map[string]string{
		"Accept":         "text/html,application/xhtml+xml",
		"Sec-Fetch-Mode": "navigate",
	})
}

// background revalidation is asynchronous; wait for the dynamic
// bucket to hold the expected body
func waitForEntry(t *testing.T, b *bucket.Bucket, requestKey string, body string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cached, err := b.Get(requestKey); nil == err && string(cached.Body) == body {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("entry %q did not reach %q", requestKey, body)
}
