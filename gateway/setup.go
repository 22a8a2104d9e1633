// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"sync"

	"github.com/bitmark-inc/logger"
	"golang.org/x/sync/singleflight"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/fault"
	"github.com/upi2qr/upi2qrd/queue"
)

// Configuration - explicit values the worker script kept as globals
type Configuration struct {
	Upstream     Fetcher
	Routes       []string // client-side routes resolving to the app shell
	APIPrefix    string   // network-first path prefix
	AppShell     string   // manifest path of the app shell document
	OfflinePage  string   // manifest path of the offline fallback document
	FallbackIcon string   // manifest path of the image fallback

	// host-page collaborators
	QueuePayment func(queue.PendingPayment) (uint64, error)
	Status       func() map[string]interface{}
}

type globalDataType struct {
	sync.RWMutex

	log      *logger.L
	upstream Fetcher

	static  *bucket.Bucket
	dynamic *bucket.Bucket

	routes       map[string]bool
	apiPrefix    string
	appShell     string
	offlinePage  string
	fallbackIcon string

	queuePayment func(queue.PendingPayment) (uint64, error)
	status       func() map[string]interface{}

	// deduplicates concurrent background revalidations per request key
	revalidations singleflight.Group

	// set once during initialise
	initialised bool
}

var globalData globalDataType

// Initialise - set up the strategy router
//
// buckets are attached separately (SetBuckets) because they change
// on every version activation while the router itself does not
func Initialise(configuration *Configuration) error {
	globalData.Lock()
	defer globalData.Unlock()

	// no need to start if already started
	if globalData.initialised {
		return fault.AlreadyInitialised
	}

	if nil == configuration || nil == configuration.Upstream {
		return fault.MissingParameters
	}

	globalData.log = logger.New("gateway")
	globalData.log.Info("starting…")

	globalData.upstream = configuration.Upstream
	globalData.apiPrefix = configuration.APIPrefix
	globalData.appShell = configuration.AppShell
	globalData.offlinePage = configuration.OfflinePage
	globalData.fallbackIcon = configuration.FallbackIcon
	globalData.queuePayment = configuration.QueuePayment
	globalData.status = configuration.Status

	globalData.routes = make(map[string]bool, len(configuration.Routes))
	for _, route := range configuration.Routes {
		globalData.routes[route] = true
	}

	globalData.initialised = true

	return nil
}

// Finalise - shut down the strategy router
func Finalise() error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.log.Info("shutting down…")

	globalData.static = nil
	globalData.dynamic = nil
	globalData.upstream = nil
	globalData.initialised = false

	return nil
}

// SetBuckets - attach the current static and dynamic buckets
//
// called by the lifecycle controller after install and again after
// every version activation; requests in flight keep whatever pair
// they already read (last write wins, no mixed pair per request)
func SetBuckets(static *bucket.Bucket, dynamic *bucket.Bucket) error {
	globalData.Lock()
	defer globalData.Unlock()

	if !globalData.initialised {
		return fault.NotInitialised
	}

	globalData.static = static
	globalData.dynamic = dynamic

	globalData.log.Infof("buckets: static: %q  dynamic: %q", static.Name(), dynamic.Name())
	return nil
}

// buckets - a consistent static/dynamic pair for one request
func buckets() (*bucket.Bucket, *bucket.Bucket) {
	globalData.RLock()
	defer globalData.RUnlock()
	return globalData.static, globalData.dynamic
}
