// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// offline-first gateway daemon for the UPI2QR payment pages
//
// the daemon plays the role the page's service worker cannot: it
// precaches the deployment manifest, answers every page request
// through a per-class caching strategy and replays payments that
// were created while the origin was unreachable
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitmark-inc/exitwithstatus"
	"github.com/bitmark-inc/logger"
	"github.com/urfave/cli"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/configuration"
	"github.com/upi2qr/upi2qrd/gateway"
	"github.com/upi2qr/upi2qrd/lifecycle"
	"github.com/upi2qr/upi2qrd/messagebus"
	"github.com/upi2qr/upi2qrd/mode"
	"github.com/upi2qr/upi2qrd/paysync"
	"github.com/upi2qr/upi2qrd/queue"
	"github.com/upi2qr/upi2qrd/storage"
)

func main() {
	// ensure exit handler is first
	defer exitwithstatus.Handler()

	app := cli.NewApp()
	app.Name = "upi2qrd"
	app.Usage = "offline-first gateway for UPI payment pages"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "configuration `FILE`",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "suppress console messages",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "gen-cert",
			Usage:  "generate a self-signed certificate and key pair",
			Action: runGenCert,
		},
	}
	app.Action = runDaemon

	if err := app.Run(os.Args); nil != err {
		exitwithstatus.Message("%s: error: %s", app.Name, err)
	}
}

func getConfiguration(c *cli.Context) (*configuration.Configuration, error) {
	configurationFile := c.GlobalString("config")
	if "" == configurationFile {
		configurationFile = c.String("config")
	}
	if "" == configurationFile {
		return nil, fmt.Errorf("missing configuration file, use: --config FILE")
	}
	return configuration.GetConfiguration(configurationFile)
}

func runGenCert(c *cli.Context) error {
	theConfiguration, err := getConfiguration(c)
	if nil != err {
		return err
	}

	err = makeSelfSignedCertificate("upi2qrd", theConfiguration.Listen.Certificate, theConfiguration.Listen.PrivateKey, false, nil)
	if nil != err {
		return err
	}
	fmt.Printf("certificate: %q\n", theConfiguration.Listen.Certificate)
	fmt.Printf("private key: %q\n", theConfiguration.Listen.PrivateKey)
	return nil
}

func runDaemon(c *cli.Context) error {
	theConfiguration, err := getConfiguration(c)
	if nil != err {
		return err
	}

	// start logging
	err = logger.Initialise(logger.Configuration{
		Directory: theConfiguration.Logging.Directory,
		File:      theConfiguration.Logging.File,
		Size:      theConfiguration.Logging.Size,
		Count:     theConfiguration.Logging.Count,
		Console:   theConfiguration.Logging.Console,
		Levels:    theConfiguration.Logging.Levels,
	})
	if nil != err {
		exitwithstatus.Message("logger setup failed with error: %s", err)
	}
	defer logger.Finalise()

	log := logger.New("main")
	defer log.Info("finished")
	log.Info("starting…")
	log.Infof("version: %s", version)

	// ------------------
	// start of real main
	// ------------------

	// optional PID file
	// use if not running under a supervisor program like daemon(8)
	if "" != theConfiguration.PidFile {
		lockFile, err := os.OpenFile(theConfiguration.PidFile, os.O_WRONLY|os.O_EXCL|os.O_CREATE, os.ModeExclusive|0o600)
		if nil != err {
			if os.IsExist(err) {
				exitwithstatus.Message("another instance is already running")
			}
			exitwithstatus.Message("PID file: %q creation failed, error: %s", theConfiguration.PidFile, err)
		}
		fmt.Fprintf(lockFile, "%d\n", os.Getpid())
		lockFile.Close()
		defer os.Remove(theConfiguration.PidFile)
	}

	// set the initial worker state - before any background tasks
	err = mode.Initialise(theConfiguration.Cache.Version)
	if nil != err {
		log.Criticalf("mode initialise error: %s", err)
		exitwithstatus.Message("mode initialise error: %s", err)
	}
	defer mode.Finalise()

	// start the data storage
	log.Info("initialise storage")
	err = storage.Initialise(theConfiguration.DataDirectory)
	if nil != err {
		log.Criticalf("storage initialise error: %s", err)
		exitwithstatus.Message("storage initialise error: %s", err)
	}
	defer storage.Finalise()

	// cache buckets - depends on storage
	log.Info("initialise bucket")
	err = bucket.Initialise(time.Duration(theConfiguration.Cache.MemoSeconds) * time.Second)
	if nil != err {
		log.Criticalf("bucket initialise error: %s", err)
		exitwithstatus.Message("bucket initialise error: %s", err)
	}
	defer bucket.Finalise()

	// payment queue - depends on storage
	log.Info("initialise queue")
	err = queue.Initialise()
	if nil != err {
		log.Criticalf("queue initialise error: %s", err)
		exitwithstatus.Message("queue initialise error: %s", err)
	}
	defer queue.Finalise()

	// upstream origin access
	fetcher, err := gateway.NewHTTPFetcher(
		theConfiguration.Upstream.Origin,
		theConfiguration.Upstream.RequestsPerSecond,
		theConfiguration.Upstream.Burst,
		time.Duration(theConfiguration.Upstream.TimeoutSeconds)*time.Second,
	)
	if nil != err {
		log.Criticalf("fetcher setup error: %s", err)
		exitwithstatus.Message("fetcher setup error: %s", err)
	}

	// strategy router
	log.Info("initialise gateway")
	err = gateway.Initialise(&gateway.Configuration{
		Upstream:     fetcher,
		Routes:       theConfiguration.Cache.Routes,
		APIPrefix:    theConfiguration.Cache.APIPrefix,
		AppShell:     theConfiguration.Cache.AppShell,
		OfflinePage:  theConfiguration.Cache.OfflinePage,
		FallbackIcon: theConfiguration.Cache.FallbackIcon,
		QueuePayment: paysync.QueuePayment,
		Status:       statusReport,
	})
	if nil != err {
		log.Criticalf("gateway initialise error: %s", err)
		exitwithstatus.Message("gateway initialise error: %s", err)
	}
	defer gateway.Finalise()

	// install and activate the configured deployment
	log.Info("initialise lifecycle")
	err = lifecycle.Initialise(&lifecycle.Configuration{
		Prefix:      theConfiguration.Cache.Prefix,
		Version:     theConfiguration.Cache.Version,
		Manifest:    theConfiguration.Cache.Manifest,
		SkipWaiting: theConfiguration.Cache.SkipWaiting,
		WatchFile:   theConfiguration.Cache.WatchFile,
		Upstream:    fetcher,
	})
	if nil != err {
		log.Criticalf("lifecycle initialise error: %s", err)
		exitwithstatus.Message("lifecycle initialise error: %s", err)
	}
	defer lifecycle.Finalise()

	err = lifecycle.Install()
	if nil != err {
		log.Criticalf("install error: %s", err)
		exitwithstatus.Message("install error: %s", err)
	}
	// on a fresh start there is no previous worker to wait for
	if mode.IsNot(mode.Active) {
		err = lifecycle.Activate()
		if nil != err {
			log.Criticalf("activate error: %s", err)
			exitwithstatus.Message("activate error: %s", err)
		}
	}

	// payment replay
	log.Info("initialise paysync")
	processor, err := paysync.NewHTTPProcessor(theConfiguration.Upstream.Origin, theConfiguration.Payments.SubmitPath)
	if nil != err {
		log.Criticalf("processor setup error: %s", err)
		exitwithstatus.Message("processor setup error: %s", err)
	}
	err = paysync.Initialise(&paysync.Configuration{
		Processor:      processor,
		Upstream:       fetcher,
		SyncInterval:   time.Duration(theConfiguration.Payments.SyncSeconds) * time.Second,
		ProbeInterval:  time.Duration(theConfiguration.Payments.ProbeSeconds) * time.Second,
		BackoffBase:    time.Duration(theConfiguration.Payments.BackoffBaseSeconds) * time.Second,
		BackoffMaximum: time.Duration(theConfiguration.Payments.BackoffMaximumSeconds) * time.Second,
	})
	if nil != err {
		log.Criticalf("paysync initialise error: %s", err)
		exitwithstatus.Message("paysync initialise error: %s", err)
	}
	defer paysync.Finalise()

	// route host page signals to the modules that act on them
	go dispatchSignals(log)

	// TLS only needed when HTTPS listeners are configured
	var tlsConf *tls.Config
	if 0 != len(theConfiguration.Listen.HTTPS) {
		tlsConf, err = tlsConfiguration(log, theConfiguration.Listen.Certificate, theConfiguration.Listen.PrivateKey)
		if nil != err {
			log.Criticalf("certificate error: %s", err)
			exitwithstatus.Message("certificate error: %s", err)
		}
	}

	err = gateway.StartListeners(theConfiguration.Listen.HTTP, theConfiguration.Listen.HTTPS, tlsConf)
	if nil != err {
		log.Criticalf("listeners error: %s", err)
		exitwithstatus.Message("listeners error: %s", err)
	}

	// wait for CTRL-C before shutting down to allow manual testing
	if !c.GlobalBool("quiet") {
		fmt.Printf("\n\nWaiting for CTRL-C (SIGINT) or 'kill <pid>' (SIGTERM)…\n")
	}

	// turn Signals into channel messages
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	log.Infof("received signal: %v", sig)
	if !c.GlobalBool("quiet") {
		fmt.Printf("\nreceived signal: %v\n", sig)
		fmt.Printf("\nshutting down…\n")
	}

	return nil
}

// dispatchSignals - single consumer of the message bus
//
// each signal is routed to the module that acts on it; the sender is
// only used for logging
func dispatchSignals(log *logger.L) {
	for message := range messagebus.Chan() {
		log.Infof("signal: %s  from: %s", message.Signal, message.From)

		switch message.Signal {
		case messagebus.SignalSkipWaiting:
			if mode.Is(mode.Installed) {
				if err := lifecycle.Activate(); nil != err {
					log.Errorf("activate error: %s", err)
				}
			}
		case messagebus.SignalSyncRequested:
			if err := paysync.Register(paysync.SyncTag); nil != err {
				log.Errorf("sync register error: %s", err)
			}
		case messagebus.SignalActivated, messagebus.SignalOnline:
			// announcements only
		}
	}
}

// statusReport - data for the status endpoint
func statusReport() map[string]interface{} {
	return map[string]interface{}{
		"mode":     mode.String(),
		"version":  lifecycle.Version(),
		"buckets":  bucket.AllNames(),
		"payments": queue.Len(),
	}
}
