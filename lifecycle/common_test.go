// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lifecycle_test

import (
	"context"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/gateway"
	"github.com/upi2qr/upi2qrd/lifecycle"
	"github.com/upi2qr/upi2qrd/messagebus"
	"github.com/upi2qr/upi2qrd/mode"
	"github.com/upi2qr/upi2qrd/storage"
)

const testingDirName = "testing"

var testManifest = []string{
	"/index.html",
	"/offline.html",
	"/app.js",
	"/app.css",
	"/icon-192.png",
}

// fakeOrigin - scripted upstream for install fetches
type fakeOrigin struct {
	sync.Mutex
	offline   bool
	responses map[string]string // path to body
}

func newFakeOrigin(paths ...string) *fakeOrigin {
	responses := make(map[string]string, len(paths))
	for _, p := range paths {
		responses[p] = "content of " + p
	}
	return &fakeOrigin{responses: responses}
}

func (f *fakeOrigin) setOffline(offline bool) {
	f.Lock()
	defer f.Unlock()
	f.offline = offline
}

func (f *fakeOrigin) remove(requestPath string) {
	f.Lock()
	defer f.Unlock()
	delete(f.responses, requestPath)
}

func (f *fakeOrigin) Fetch(ctx context.Context, method string, requestPath string, header http.Header) (*bucket.CachedResponse, error) {
	f.Lock()
	defer f.Unlock()

	if f.offline {
		return nil, fault.NetworkUnavailable
	}
	body, ok := f.responses[requestPath]
	if !ok {
		return &bucket.CachedResponse{
			Status: http.StatusNotFound,
			Body:   []byte("not found"),
		}, nil
	}
	return &bucket.CachedResponse{
		Status: http.StatusOK,
		Header: map[string]string{"Content-Type": "text/plain"},
		Body:   []byte(body),
	}, nil
}

func setup(t *testing.T, version string) *fakeOrigin {
	removeFiles()
	_ = os.Mkdir(testingDirName, 0o700)

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "lifecycle_test.log",
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
	if err := bucket.Initialise(0); nil != err {
		t.Fatalf("bucket initialise error: %s", err)
	}
	if err := mode.Initialise(version); nil != err {
		t.Fatalf("mode initialise error: %s", err)
	}

	origin := newFakeOrigin(testManifest...)

	err := gateway.Initialise(&gateway.Configuration{
		Upstream:    origin,
		Routes:      []string{"/", "/create", "/pay"},
		APIPrefix:   "/api/",
		AppShell:    "/index.html",
		OfflinePage: "/offline.html",
	})
	if nil != err {
		t.Fatalf("gateway initialise error: %s", err)
	}

	drainBus()

	return origin
}

func teardown(t *testing.T) {
	_ = lifecycle.Finalise()
	_ = gateway.Finalise()
	_ = bucket.Finalise()
	storage.Finalise()
	_ = mode.Finalise()
	logger.Finalise()
	removeFiles()
}

func removeFiles() {
	os.RemoveAll(testingDirName)
}

// discard signals left over from earlier tests
func drainBus() {
	for {
		select {
		case <-messagebus.Chan():
		default:
			return
		}
	}
}

func waitForSignal(t *testing.T, signal messagebus.Signal) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case message := <-messagebus.Chan():
			if signal == message.Signal {
				return
			}
		case <-deadline:
			t.Fatalf("signal %s never arrived", signal)
		}
	}
}
