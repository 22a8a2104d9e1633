// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucket_test

import (
	"os"
	"testing"
	"time"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/bucket"
	"github.com/upi2qr/upi2qrd/storage"
)

const (
	testingDirName = "testing"
	memoTTL        = 100 * time.Millisecond
)

func removeFiles() {
	os.RemoveAll(testingDirName)
}

func setup(t *testing.T) {
	removeFiles()
	_ = os.Mkdir(testingDirName, 0o700)

	logging := logger.Configuration{
		Directory: testingDirName,
		File:      "bucket_test.log",
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

	if err := bucket.Initialise(memoTTL); nil != err {
		t.Fatalf("bucket initialise error: %s", err)
	}
}

func teardown(t *testing.T) {
	_ = bucket.Finalise()
	storage.Finalise()
	logger.Finalise()
	removeFiles()
}
