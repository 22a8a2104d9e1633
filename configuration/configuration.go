// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package configuration - parse the daemon configuration file
//
// the configuration is a Lua file; the last expression evaluated must
// be a table which is mapped onto the Configuration structure
package configuration

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitmark-inc/logger"

	"github.com/upi2qr/upi2qrd/fault"
)

// basic defaults (directories and files are relative to the "DataDirectory" from the configuration file)
const (
	defaultPidFile = "upi2qrd.pid"

	defaultKeyFile         = "upi2qrd.key"
	defaultCertificateFile = "upi2qrd.crt"

	defaultLogDirectory = "log"
	defaultLogFile      = "upi2qrd.log"
	defaultLogCount     = 10          //  number of log files retained
	defaultLogSize      = 1024 * 1024 // rotate when <logfile> exceeds this size

	defaultCachePrefix  = "upi2qr"
	defaultVersionToken = "v1"
	defaultAppShell     = "/index.html"
	defaultOfflinePage  = "/offline.html"
	defaultFallbackIcon = "/icon-192.png"

	defaultMemoSeconds       = 30
	defaultRequestsPerSecond = 100.0
	defaultBurst             = 100
	defaultTimeoutSeconds    = 30

	defaultSubmitPath            = "/api/payments"
	defaultSyncSeconds           = 300
	defaultProbeSeconds          = 30
	defaultBackoffBaseSeconds    = 30
	defaultBackoffMaximumSeconds = 3600
)

// LoglevelMap - to hold log levels
type LoglevelMap map[string]string

// CacheType - cache bucket and strategy configuration
//
// this holds what the original worker kept as script globals: the
// static asset manifest, the known client routes and the bucket
// naming parameters
type CacheType struct {
	Prefix       string   `gluamapper:"prefix" json:"prefix"`
	Version      string   `gluamapper:"version" json:"version"`
	Manifest     []string `gluamapper:"manifest" json:"manifest"`
	Routes       []string `gluamapper:"routes" json:"routes"`
	APIPrefix    string   `gluamapper:"api_prefix" json:"api_prefix"`
	AppShell     string   `gluamapper:"app_shell" json:"app_shell"`
	OfflinePage  string   `gluamapper:"offline_page" json:"offline_page"`
	FallbackIcon string   `gluamapper:"fallback_icon" json:"fallback_icon"`
	MemoSeconds  int      `gluamapper:"memo_seconds" json:"memo_seconds"`
	SkipWaiting  bool     `gluamapper:"skip_waiting" json:"skip_waiting"`
	WatchFile    string   `gluamapper:"watch_file" json:"watch_file"`
}

// UpstreamType - the origin served through the gateway
type UpstreamType struct {
	Origin            string  `gluamapper:"origin" json:"origin"`
	RequestsPerSecond float64 `gluamapper:"requests_per_second" json:"requests_per_second"`
	Burst             int     `gluamapper:"burst" json:"burst"`
	TimeoutSeconds    int     `gluamapper:"timeout_seconds" json:"timeout_seconds"`
}

// ListenType - HTTP and optional HTTPS listeners
type ListenType struct {
	HTTP        []string `gluamapper:"http" json:"http"`
	HTTPS       []string `gluamapper:"https" json:"https"`
	Certificate string   `gluamapper:"certificate" json:"certificate"`
	PrivateKey  string   `gluamapper:"private_key" json:"private_key"`
}

// PaymentsType - offline payment replay configuration
type PaymentsType struct {
	SubmitPath            string `gluamapper:"submit_path" json:"submit_path"`
	SyncSeconds           int    `gluamapper:"sync_seconds" json:"sync_seconds"`
	ProbeSeconds          int    `gluamapper:"probe_seconds" json:"probe_seconds"`
	BackoffBaseSeconds    int    `gluamapper:"backoff_base_seconds" json:"backoff_base_seconds"`
	BackoffMaximumSeconds int    `gluamapper:"backoff_maximum_seconds" json:"backoff_maximum_seconds"`
}

// LoggerType - log rotation and level configuration
type LoggerType struct {
	Directory string      `gluamapper:"directory" json:"directory"`
	File      string      `gluamapper:"file" json:"file"`
	Size      int         `gluamapper:"size" json:"size"`
	Count     int         `gluamapper:"count" json:"count"`
	Console   bool        `gluamapper:"console" json:"console"`
	Levels    LoglevelMap `gluamapper:"levels" json:"levels"`
}

// Configuration - the entire configuration file
type Configuration struct {
	DataDirectory string       `gluamapper:"data_directory" json:"data_directory"`
	PidFile       string       `gluamapper:"pidfile" json:"pidfile"`
	Cache         CacheType    `gluamapper:"cache" json:"cache"`
	Upstream      UpstreamType `gluamapper:"upstream" json:"upstream"`
	Listen        ListenType   `gluamapper:"listen" json:"listen"`
	Payments      PaymentsType `gluamapper:"payments" json:"payments"`
	Logging       LoggerType   `gluamapper:"logging" json:"logging"`
}

// GetConfiguration - read and parse a configuration file and fill in
// all defaults
func GetConfiguration(configurationFileName string) (*Configuration, error) {

	configurationFileName, err := filepath.Abs(filepath.Clean(configurationFileName))
	if nil != err {
		return nil, err
	}

	options := &Configuration{

		DataDirectory: "", // must be present in configuration file

		PidFile: defaultPidFile,

		Cache: CacheType{
			Prefix:       defaultCachePrefix,
			Version:      defaultVersionToken,
			Manifest:     []string{},
			Routes:       []string{},
			AppShell:     defaultAppShell,
			OfflinePage:  defaultOfflinePage,
			FallbackIcon: defaultFallbackIcon,
			MemoSeconds:  defaultMemoSeconds,
		},

		Upstream: UpstreamType{
			RequestsPerSecond: defaultRequestsPerSecond,
			Burst:             defaultBurst,
			TimeoutSeconds:    defaultTimeoutSeconds,
		},

		Listen: ListenType{
			Certificate: defaultCertificateFile,
			PrivateKey:  defaultKeyFile,
		},

		Payments: PaymentsType{
			SubmitPath:            defaultSubmitPath,
			SyncSeconds:           defaultSyncSeconds,
			ProbeSeconds:          defaultProbeSeconds,
			BackoffBaseSeconds:    defaultBackoffBaseSeconds,
			BackoffMaximumSeconds: defaultBackoffMaximumSeconds,
		},

		Logging: LoggerType{
			Directory: defaultLogDirectory,
			File:      defaultLogFile,
			Size:      defaultLogSize,
			Count:     defaultLogCount,
			Levels: LoglevelMap{
				"main":            "info",
				"config":          "info",
				logger.DefaultTag: "critical",
			},
		},
	}

	if err := ParseConfigurationFile(configurationFileName, options); nil != err {
		return nil, err
	}

	// absolute path to the main directory
	dataDirectory, _ := filepath.Split(configurationFileName)

	// fail if the configuration file did not set the data directory
	if "" == options.DataDirectory {
		return nil, fault.InvalidDataDirectory
	} else if "." == options.DataDirectory {
		options.DataDirectory = dataDirectory // same directory as the configuration file
	}
	options.DataDirectory = filepath.Clean(options.DataDirectory)
	if !filepath.IsAbs(options.DataDirectory) {
		options.DataDirectory = filepath.Join(dataDirectory, options.DataDirectory)
	}

	// ensure the data directory exists
	if fileInfo, err := os.Stat(options.DataDirectory); nil != err {
		return nil, err
	} else if !fileInfo.IsDir() {
		return nil, fault.InvalidDataDirectory
	}

	// force all relevant items to be relative to the data directory
	mustBeAbsolute := []*string{
		&options.PidFile,
		&options.Listen.Certificate,
		&options.Listen.PrivateKey,
		&options.Logging.Directory,
	}
	for _, f := range mustBeAbsolute {
		*f = ensureAbsolute(options.DataDirectory, *f)
	}
	if "" != options.Cache.WatchFile {
		options.Cache.WatchFile = ensureAbsolute(options.DataDirectory, options.Cache.WatchFile)
	}

	if err := validate(options); nil != err {
		return nil, err
	}

	return options, nil
}

// check semantic constraints that the Lua mapping cannot express
func validate(options *Configuration) error {

	if "" == options.Upstream.Origin {
		return fault.InvalidUpstreamOrigin
	}
	u, err := url.Parse(options.Upstream.Origin)
	if nil != err {
		return fault.InvalidUpstreamOrigin
	}
	if ("http" != u.Scheme && "https" != u.Scheme) || "" == u.Host {
		return fault.InvalidUpstreamOrigin
	}

	if "" == options.Cache.Prefix {
		return fault.InvalidBucketPrefix
	}
	if "" == options.Cache.Version {
		return fault.InvalidVersionToken
	}
	if 0 == len(options.Cache.Manifest) {
		return fault.InvalidManifest
	}
	for _, entry := range options.Cache.Manifest {
		if "" == entry || '/' != entry[0] {
			return fault.InvalidManifest
		}
	}

	if 0 == len(options.Listen.HTTP) && 0 == len(options.Listen.HTTPS) {
		return fault.InvalidListenAddress
	}
	for _, addresses := range [][]string{options.Listen.HTTP, options.Listen.HTTPS} {
		for _, listen := range addresses {
			if "" == listen || !strings.Contains(listen, ":") {
				return fault.InvalidListenAddress
			}
		}
	}

	return nil
}

// ensureAbsolute - convert a possibly relative path to an absolute
// path anchored at a specific directory
func ensureAbsolute(directory string, filePath string) string {
	if "" == filePath {
		return ""
	}
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(directory, filePath)
	}
	return filepath.Clean(filePath)
}
