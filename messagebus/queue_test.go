// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package messagebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSendReceive(t *testing.T) {
	ok := Send("page", SignalSkipWaiting)
	assert.True(t, ok, "send failed")

	message := <-Chan()
	assert.Equal(t, "page", message.From, "wrong originator")
	assert.Equal(t, SignalSkipWaiting, message.Signal, "wrong signal")
}

// a full queue must drop, not block
func TestSendFullQueue(t *testing.T) {
	for i := 0; i < queueSize; i += 1 {
		assert.True(t, Send("worker", SignalOnline), "fill send failed")
	}

	assert.False(t, Send("worker", SignalOnline), "full queue must drop")

	// drain for any later test
	for i := 0; i < queueSize; i += 1 {
		<-Chan()
	}
}

func TestSignalNames(t *testing.T) {
	assert.Equal(t, "skip-waiting", SignalSkipWaiting.String(), "name")
	assert.Equal(t, "activated", SignalActivated.String(), "name")
	assert.Equal(t, "online", SignalOnline.String(), "name")
	assert.Equal(t, "sync-requested", SignalSyncRequested.String(), "name")
	assert.Equal(t, "*unknown*", Signal(99).String(), "unknown name")
}
