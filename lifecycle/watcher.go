// SPDX-License-Identifier: ISC
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package lifecycle

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitmark-inc/logger"
	"github.com/fsnotify/fsnotify"
)

// burst of events from one atomic deployment collapses to one update
const debounceDelay = 500 * time.Millisecond

// deploymentWatcher - watches a version file for new deployments
//
// the file holds the version token of the deployment that should be
// live; the parent directory is watched so atomic replace (write to
// temporary then rename) is seen as well
type deploymentWatcher struct {
	log      *logger.L
	filePath string
	watcher  *fsnotify.Watcher
}

func newDeploymentWatcher(targetFile string, log *logger.L) (*deploymentWatcher, error) {

	filePath, err := filepath.Abs(filepath.Clean(targetFile))
	if nil != err {
		log.Errorf("parse file %q error: %s", targetFile, err)
		return nil, err
	}

	if _, err := os.Stat(filePath); nil != err {
		log.Errorf("stat file %q error: %s", filePath, err)
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if nil != err {
		log.Errorf("new watcher error: %s", err)
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(filePath)); nil != err {
		log.Errorf("watcher add error: %s", err)
		watcher.Close()
		return nil, err
	}

	return &deploymentWatcher{
		log:      log,
		filePath: filePath,
		watcher:  watcher,
	}, nil
}

func (w *deploymentWatcher) Run(args interface{}, shutdown <-chan struct{}) {
	log := w.log
	log.Info("starting…")

	debounce := time.NewTimer(debounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}

loop:
	for {
		select {
		case <-shutdown:
			break loop

		case event := <-w.watcher.Events:
			if filepath.Base(event.Name) != filepath.Base(w.filePath) {
				continue loop
			}
			log.Debugf("file event: %v", event)
			if watcherEventIsChange(event) {
				debounce.Reset(debounceDelay)
			}

		case err := <-w.watcher.Errors:
			log.Errorf("watcher error: %s", err)

		case <-debounce.C:
			token, err := readVersionToken(w.filePath)
			if nil != err {
				log.Errorf("read version file %q error: %s", w.filePath, err)
				continue loop
			}
			if err := Update(token); nil != err {
				log.Errorf("deployment %q failed: %s", token, err)
			}
		}
	}

	debounce.Stop()
	w.watcher.Close()
	log.Info("shutting down…")
	log.Flush()
}

func watcherEventIsChange(event fsnotify.Event) bool {
	return 0 != event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod)
}

// first line of the file, trimmed, is the version token
func readVersionToken(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return "", err
	}
	token, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(token), nil
}
