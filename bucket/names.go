// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bucket

import (
	"strings"

	"github.com/upi2qr/upi2qrd/fault"
)

// bucket name layout: <prefix>-static-<version> / <prefix>-dynamic-<version>
const (
	staticTag  = "static"
	dynamicTag = "dynamic"
)

// StaticName - name of the static bucket for a deployment version
func StaticName(prefix string, version string) string {
	return prefix + "-" + staticTag + "-" + version
}

// DynamicName - name of the dynamic bucket for a deployment version
func DynamicName(prefix string, version string) string {
	return prefix + "-" + dynamicTag + "-" + version
}

// OwnedBy - check if a bucket name belongs to an application prefix
//
// used by the activation sweep to recognise buckets this application
// owns without touching anybody else's
func OwnedBy(name string, prefix string) bool {
	return strings.HasPrefix(name, prefix+"-")
}

// names are embedded in store keys with a NUL separator so they must
// not contain one themselves
func validateName(name string) error {
	if "" == name || strings.ContainsRune(name, 0) {
		return fault.InvalidBucketName
	}
	return nil
}
