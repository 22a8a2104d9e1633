// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/upi2qr/upi2qrd/fault"
)

const (
	readWriteTimeout = 30 * time.Second
)

// NewMux - the complete routing table of the gateway
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/upi2qrd/status", StatusHandler)
	mux.HandleFunc("/upi2qrd/payments", PaymentsHandler)
	mux.HandleFunc("/upi2qrd/message", MessageHandler)
	mux.HandleFunc("/", Handle)
	return mux
}

// StartListeners - serve the gateway on all configured addresses
//
// HTTPS is required for a page to install a service worker, so the
// TLS listener is the production surface and plain HTTP is for local
// development
func StartListeners(httpAddresses []string, httpsAddresses []string, tlsConfiguration *tls.Config) error {
	globalData.RLock()
	initialised := globalData.initialised
	log := globalData.log
	globalData.RUnlock()
	if !initialised {
		return fault.NotInitialised
	}

	if 0 != len(httpsAddresses) && nil == tlsConfiguration {
		return fault.MissingParameters
	}

	mux := NewMux()

	for _, listen := range httpAddresses {
		log.Infof("starting server: http on: %q", listen)
		go doServe(canonical(listen), mux, nil)
	}

	for _, listen := range httpsAddresses {
		log.Infof("starting server: https on: %q", listen)
		go doServe(canonical(listen), mux, tlsConfiguration)
	}

	return nil
}

// change "*:PORT" to "[::]:PORT"
// on the assumption that this will listen on tcp4 and tcp6
func canonical(listen string) string {
	if strings.HasPrefix(listen, "*:") {
		return "[::]" + strings.TrimPrefix(listen, "*")
	}
	return listen
}

func doServe(addr string, handler http.Handler, cfg *tls.Config) {
	s := &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    readWriteTimeout,
		WriteTimeout:   readWriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	ln, err := net.Listen("tcp", addr)
	if nil != err {
		globalData.log.Errorf("listen: %q failed with error: %s", addr, err)
		return
	}

	if nil != cfg {
		cfg.NextProtos = []string{"http/1.1"}
		ln = tls.NewListener(ln, cfg)
	}

	_ = s.Serve(ln)
}
