// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"os"
	"time"

	"github.com/bitmark-inc/certgen"
	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/fault"
)

const certificateLifetime = 10 * 365 * 24 * time.Hour

// build the TLS configuration for the HTTPS listeners, generating a
// self-signed pair on first start if none exists
func tlsConfiguration(log *logger.L, certificateFileName string, keyFileName string) (*tls.Config, error) {

	if !fileExists(certificateFileName) && !fileExists(keyFileName) {
		log.Warnf("generating self-signed certificate: %q", certificateFileName)
		if err := makeSelfSignedCertificate("upi2qrd", certificateFileName, keyFileName, false, nil); nil != err {
			return nil, err
		}
	}

	keyPair, err := tls.LoadX509KeyPair(certificateFileName, keyFileName)
	if nil != err {
		log.Errorf("failed to load keypair: %s", err)
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{
			keyPair,
		},
	}, nil
}

// create a self-signed certificate
func makeSelfSignedCertificate(name string, certificateFileName string, keyFileName string, override bool, extraHosts []string) error {

	if fileExists(certificateFileName) {
		return fault.CertificateFileExists
	}

	if fileExists(keyFileName) {
		return fault.KeyFileExists
	}

	org := "upi2qrd self signed cert for: " + name
	validUntil := time.Now().Add(certificateLifetime)
	cert, key, err := certgen.NewTLSCertPair(org, validUntil, override, extraHosts)
	if nil != err {
		return err
	}

	if err = os.WriteFile(certificateFileName, cert, 0o666); nil != err {
		return err
	}

	if err = os.WriteFile(keyFileName, key, 0o600); nil != err {
		os.Remove(certificateFileName)
		return err
	}

	return nil
}

func fileExists(name string) bool {
	fileInfo, err := os.Stat(name)
	return nil == err && fileInfo.Mode().IsRegular()
}
