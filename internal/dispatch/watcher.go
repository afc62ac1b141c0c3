package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// RuleWatcher reloads a rules file when it changes and swaps it into a
// RuleSet. A file that fails to load or names unknown handlers is rejected
// and the active table is kept.
type RuleWatcher struct {
	path     string
	rules    *RuleSet
	known    func(name string) bool
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	reloaded chan struct{}
}

// NewRuleWatcher watches path. known reports whether a handler name is
// registered; nil accepts every name.
func NewRuleWatcher(path string, rules *RuleSet, known func(string) bool, logger *zap.Logger) (*RuleWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files instead of writing in place.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}
	return &RuleWatcher{
		path:     absPath,
		rules:    rules,
		known:    known,
		logger:   logger.With(zap.String("component", "rule_watcher"), zap.String("path", absPath)),
		watcher:  watcher,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded is signalled after every successful swap.
func (w *RuleWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Run processes file events until ctx is done.
func (w *RuleWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// reload loads the file and swaps it in when valid.
func (w *RuleWatcher) reload() {
	t, err := LoadRulesFromFile(w.path)
	if err == nil && w.known != nil {
		err = t.CheckHandlers(w.known)
	}
	if err != nil {
		w.logger.Error("rules reload rejected, keeping active table", zap.Error(err))
		return
	}

	before := w.rules.Load().Topics()
	w.rules.Swap(t)
	if !slices.Equal(before, t.Topics()) {
		w.logger.Warn("rule topics changed; new topics are subscribed on restart",
			zap.Strings("active", before), zap.Strings("reloaded", t.Topics()))
	}
	w.logger.Info("rules reloaded", zap.Int("rules", len(t.Rules())))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
