// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package configuration_test

import (
	"os"
	"testing"
)

// write a throwaway configuration file for a test case
func writeFile(t *testing.T, fileName string, content string) {
	t.Helper()
	if err := os.WriteFile(fileName, []byte(content), 0o600); nil != err {
		t.Fatalf("write %q failed with error: %s", fileName, err)
	}
}
