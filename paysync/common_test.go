// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package paysync_test

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
	"github.com/upi2qr/upi2qrd/messagebus"
	"github.com/upi2qr/upi2qrd/paysync"
	"github.com/upi2qr/upi2qrd/queue"
	"github.com/upi2qr/upi2qrd/storage"
)

const testingDirName = "testing"

// fakeProcessor - scripted delivery outcomes keyed by payee name
type fakeProcessor struct {
	sync.Mutex
	failing map[string]bool
	calls   map[string]int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		failing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (p *fakeProcessor) fail(name string, failing bool) {
	p.Lock()
	defer p.Unlock()
	p.failing[name] = failing
}

func (p *fakeProcessor) callCount(name string) int {
	p.Lock()
	defer p.Unlock()
	return p.calls[name]
}

func (p *fakeProcessor) Process(ctx context.Context, payment queue.PendingPayment) error {
	p.Lock()
	defer p.Unlock()
	p.calls[payment.Name]++
	if p.failing[payment.Name] {
		return fault.NetworkUnavailable
	}
	return nil
}

// fakeProbe - connectivity probe target
type fakeProbe struct {
	sync.Mutex
	offline bool
}

func (f *fakeProbe) setOffline(offline bool) {
	f.Lock()
	defer f.Unlock()
	f.offline = offline
}

func (f *fakeProbe) Fetch(ctx context.Context, method string, requestPath string, header http.Header) (*bucket.CachedResponse, error) {
	f.Lock()
	defer f.Unlock()
	if f.offline {
		return nil, fault.NetworkUnavailable
	}
	return &bucket.CachedResponse{Status: http.StatusOK}, nil
}

func setup(t *testing.T) {
	removeFiles()
	_ = os.Mkdir(testingDirName, 0o700)

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "paysync_test.log",
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
	if err := queue.Initialise(); nil != err {
		t.Fatalf("queue initialise error: %s", err)
	}

	drainBus()
}

func teardown(t *testing.T) {
	_ = paysync.Finalise()
	_ = queue.Finalise()
	storage.Finalise()
	logger.Finalise()
	removeFiles()
}

func removeFiles() {
	os.RemoveAll(testingDirName)
}

func drainBus() {
	for {
		select {
		case <-messagebus.Chan():
		default:
			return
		}
	}
}

// poll until the condition holds or the deadline passes
func waitFor(t *testing.T, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}
