package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"qms/qalert/internal/config"
	"qms/qalert/internal/hub"
	"qms/qalert/internal/models"
	"qms/qalert/internal/observer"
	"qms/qalert/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSubjects(t *testing.T) {
	path := writeFile(t, "subjects.yaml", `
- id: p1
  display_name: Siti Aminah
  phone: "0812-3456-7890"
- id: p2
  display_name: Budi
  phone: "+628111111111"
  external_id: MR-002
`)
	subjects, err := loadSubjects(path)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, models.Subject{ID: "p1", DisplayName: "Siti Aminah", Phone: "0812-3456-7890"}, subjects[0])
	assert.Equal(t, "MR-002", subjects[1].ExternalID)

	none, err := loadSubjects("")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = loadSubjects(writeFile(t, "bad.yaml", "- display_name: nobody\n"))
	assert.Error(t, err)
}

func TestOpenMemoryStoreSeedsSubjects(t *testing.T) {
	cfg := config.Defaults()
	cfg.SubjectsFile = writeFile(t, "subjects.yaml", "- id: p1\n  display_name: Siti\n")

	st, closeStore, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	subjects, err := st.ListSubjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Siti", subjects[0].DisplayName)
}

func TestWaitReadyRetries(t *testing.T) {
	attempts := 0
	err := waitReady(context.Background(), "flaky", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWaitReadyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitReady(ctx, "down", func(context.Context) error {
		return errors.New("down")
	})
	assert.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.RedisAddr = mr.Addr()

	client, err := openRedis(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Set(context.Background(), "k", "v", time.Minute).Err())
}

func TestPublishToForwardsRenderedSnapshot(t *testing.T) {
	h := hub.New()
	client := &hub.Client{ID: "screen", Send: make(chan []byte, 1)}
	h.Register(client)
	require.True(t, h.Subscribe(client, hub.TopicDisplay))

	day := models.Date{Year: 2026, Month: time.March, Day: 10}
	snapshot := observer.Snapshot{Day: day, Entries: []models.QueueEntry{
		{ID: "a", ServiceDate: day, Status: models.StatusWaiting, SequenceNumber: 4},
	}}
	publishTo(h, hub.TopicDisplay, func(s observer.Snapshot) any { return observer.BuildBoard(s) }).Publish(7, snapshot)

	var event hub.Event
	require.NoError(t, json.Unmarshal(<-client.Send, &event))
	assert.Equal(t, uint64(7), event.Revision)
	var board observer.Board
	require.NoError(t, json.Unmarshal(event.Payload, &board))
	assert.Equal(t, []int{4}, board.Waiting)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "display", "worker"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestOpenRemoteStoreFailsFastOnAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := config.Defaults()
	cfg.Store = config.StoreRemote
	cfg.RemoteURL = server.URL

	start := time.Now()
	_, _, err := openStore(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotAuthenticated)
	assert.Less(t, time.Since(start), 5*time.Second)
}
