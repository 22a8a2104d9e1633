// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package background_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/upi2qr/upi2qrd/background"
)

type counter struct {
	started int32
	stopped int32
}

func (c *counter) Run(args interface{}, shutdown <-chan struct{}) {
	atomic.AddInt32(&c.started, 1)
	<-shutdown
	atomic.AddInt32(&c.stopped, 1)
}

func TestStartStop(t *testing.T) {
	one := &counter{}
	two := &counter{}

	processes := background.Processes{one, two}
	register := background.Start(processes, nil)

	// allow goroutines to start
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&one.started), "first not started")
	assert.Equal(t, int32(1), atomic.LoadInt32(&two.started), "second not started")

	register.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&one.stopped), "first not stopped")
	assert.Equal(t, int32(1), atomic.LoadInt32(&two.stopped), "second not stopped")
}

func TestStopNil(t *testing.T) {
	var register *background.T
	assert.NotPanics(t, func() { register.Stop() }, "nil stop must be a no-op")
}

// arguments are delivered unchanged to every process
func TestArgs(t *testing.T) {
	type arguments struct{ tag string }

	received := make(chan string, 1)

	p := processFunc(func(args interface{}, shutdown <-chan struct{}) {
		received <- args.(*arguments).tag
		<-shutdown
	})

	register := background.Start(background.Processes{p}, &arguments{tag: "sync-payments"})
	defer register.Stop()

	select {
	case tag := <-received:
		assert.Equal(t, "sync-payments", tag, "wrong argument")
	case <-time.After(time.Second):
		t.Fatal("process did not receive arguments")
	}
}

type processFunc func(args interface{}, shutdown <-chan struct{})

func (f processFunc) Run(args interface{}, shutdown <-chan struct{}) { f(args, shutdown) }
