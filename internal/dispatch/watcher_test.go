package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedRules = `
rules:
  - name: item_alarms
    topic: objects
    shape: property
    condition: "[monitor]State/Value"
`

const watchedRulesV2 = `
rules:
  - name: item_alarms
    topic: objects
    shape: property
    condition: "[monitor]State/Value"
  - name: widget_alarms
    topic: objects
    shape: property
    condition: "[widget]Value/Value"
`

func TestRuleWatcher_SwapsValidFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watchedRules), 0o600))

	table, err := LoadRulesFromFile(path)
	require.NoError(t, err)
	rs := NewRuleSet(table)

	known := func(name string) bool { return name == "item_alarms" || name == "widget_alarms" }
	w, err := NewRuleWatcher(path, rs, known, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte(watchedRulesV2), 0o600))
	select {
	case <-w.Reloaded():
	case <-time.After(3 * time.Second):
		t.Fatal("rules were not reloaded")
	}
	require.Eventually(t, func() bool { return len(rs.Load().Rules()) == 2 }, time.Second, 10*time.Millisecond)

	// Unknown handler: rejected, previous table stays.
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: teleport
    topic: objects
    shape: object
    condition: "*"
`), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rs.Load().Rules(), 2)

	// Broken YAML: rejected too.
	require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rs.Load().Rules(), 2)
}

func TestRuleWatcher_MissingDirectory(t *testing.T) {
	_, err := NewRuleWatcher("/nonexistent/dir/rules.yaml", NewRuleSet(DefaultTable()), nil, nil)
	assert.Error(t, err)
}
