package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHardwareConsumer_AppendsLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c := &HardwareConsumer{LogDir: dir, Log: zap.NewNop()}

	for _, id := range []string{"h1", "h2"} {
		body, err := json.Marshal(HardwarePendingEvent{AccountID: "a", Username: "alice", HardwareID: id, Hash: "abc", History: 1, CreatedAt: "2026-01-02T03:04:05Z"})
		require.NoError(t, err)
		require.NoError(t, c.handle(body))
	}

	out, err := os.ReadFile(filepath.Join(dir, "hardware.log"))
	require.NoError(t, err)
	assert.Equal(t,
		"[2026-01-02T03:04:05Z] Hardware pending approval | account_id=a | username=\"alice\" | hardware_id=h1 | hash=abc | previous_devices=1\n"+
			"[2026-01-02T03:04:05Z] Hardware pending approval | account_id=a | username=\"alice\" | hardware_id=h2 | hash=abc | previous_devices=1\n",
		string(out))
}

func TestHardwareConsumer_RejectsGarbage(t *testing.T) {
	c := &HardwareConsumer{LogDir: t.TempDir(), Log: zap.NewNop()}
	assert.Error(t, c.handle([]byte("{")))
}

type countingReloader struct {
	calls int
	err   error
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

func TestLoaderWatcher_Handle(t *testing.T) {
	r := &countingReloader{}
	w := &LoaderWatcher{Origin: "self", Reloader: r, Log: zap.NewNop()}
	ctx := context.Background()

	own, _ := json.Marshal(LoaderChangedEvent{Reason: ReasonKeysRotated, Origin: "self"})
	require.NoError(t, w.handle(ctx, own))
	assert.Equal(t, 0, r.calls)

	other, _ := json.Marshal(LoaderChangedEvent{Reason: ReasonKeysRotated, Origin: "peer"})
	require.NoError(t, w.handle(ctx, other))
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("db down")
	assert.Error(t, w.handle(ctx, other))
	assert.Error(t, w.handle(ctx, []byte("nope")))
}

func TestRunWithReconnect_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runWithReconnect(ctx, "amqp://127.0.0.1:1/", zap.NewNop(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
