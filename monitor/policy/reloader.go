package policy

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/async"
	"github.com/chainsentry/evm-transfer-monitor/config"
)

// reloadDebounceInterval coalesces the burst of writes an editor or config
// management tool fires while saving a file.
var reloadDebounceInterval = time.Second

// Reloader watches the configuration file and applies policy changes
// without a restart: strategy, thresholds, and new watch addresses. A file
// that fails to parse leaves the running policy untouched.
type Reloader struct {
	ctx    context.Context
	cancel context.CancelFunc

	path      string
	chainName string
	policy    *Policy
	watched   *WatchedSet
}

// NewReloader builds a reloader for the config file at path.
func NewReloader(ctx context.Context, path, chainName string, p *Policy, w *WatchedSet) *Reloader {
	ctx, cancel := context.WithCancel(ctx)
	return &Reloader{
		ctx:       ctx,
		cancel:    cancel,
		path:      path,
		chainName: chainName,
		policy:    p,
		watched:   w,
	}
}

// Start begins watching the config file.
func (r *Reloader) Start() {
	go r.run()
}

// Stop halts the watcher.
func (r *Reloader) Stop() error {
	r.cancel()
	return nil
}

// Status always reports healthy: a broken watcher degrades hot reload, not
// the pipeline.
func (r *Reloader) Status() error {
	return nil
}

func (r *Reloader) run() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Error("Could not initialize config file watcher")
		return
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Error("Could not close config file watcher")
		}
	}()
	if err := watcher.Add(r.path); err != nil {
		log.WithError(err).Errorf("Could not watch config file %s", r.path)
		return
	}
	log.WithField("path", r.path).Debug("Watching config file for policy changes")

	fileChangesChan := make(chan interface{}, 100)
	defer close(fileChangesChan)
	go async.Debounce(r.ctx, reloadDebounceInterval, fileChangesChan, func(event interface{}) {
		if _, ok := event.(fsnotify.Event); !ok {
			log.Errorf("Type %T is not a valid file system event", event)
			return
		}
		r.reload()
	})

	for {
		select {
		case event := <-watcher.Events:
			if event.Op&fsnotify.Write == fsnotify.Write {
				fileChangesChan <- event
			}
		case err := <-watcher.Errors:
			log.WithError(err).Errorf("Could not watch for file changes for: %s", r.path)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := config.Load(r.path)
	if err != nil {
		log.WithError(err).Error("Could not reload configuration, keeping active policy")
		return
	}
	chain, err := cfg.Chain(r.chainName)
	if err != nil {
		log.WithError(err).Error("Reloaded configuration dropped the active chain, keeping active policy")
		return
	}
	if err := r.policy.SetThresholds(cfg.Monitor.Thresholds, chain); err != nil {
		log.WithError(err).Error("Could not apply reloaded thresholds, keeping active policy")
		return
	}
	if err := r.policy.SetStrategy(cfg.Monitor.Strategy); err != nil {
		log.WithError(err).Error("Could not apply reloaded strategy, keeping active policy")
		return
	}
	added := r.watched.Merge(cfg.Monitor.WatchAddresses)
	log.WithFields(logrus.Fields{
		"strategy":       cfg.Monitor.Strategy,
		"thresholds":     len(cfg.Monitor.Thresholds),
		"addressesAdded": added,
	}).Info("Policy configuration reloaded")
}
