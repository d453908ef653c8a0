package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/cmd"
	"github.com/pcloudkit/pcloud/config"
	"github.com/pcloudkit/pcloud/lib/kv"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is written by the watcher while the test reads it
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// diffServer returns two events on the first call then blocks,
// recording the diffid asked for
type diffServer struct {
	*httptest.Server
	mu      sync.Mutex
	diffIDs []string
}

func newDiffServer(t *testing.T) *diffServer {
	ds := &diffServer{}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/diff" {
			http.NotFound(w, r)
			return
		}
		diffID := r.URL.Query().Get("diffid")
		ds.mu.Lock()
		ds.diffIDs = append(ds.diffIDs, diffID)
		ds.mu.Unlock()
		if diffID == "" {
			_, _ = w.Write([]byte(`{"result": 0, "diffid": 2, "entries": [
				{"diffid": 1, "event": "createfolder", "time": "Sun, 16 Mar 2014 17:26:04 +0000", "metadata": {"name": "docs", "isfolder": true, "folderid": 9}},
				{"diffid": 2, "event": "createfile", "time": "Sun, 16 Mar 2014 17:26:05 +0000", "metadata": {"name": "a.txt", "parentfolderid": 9, "fileid": 3}}
			]}`))
			return
		}
		<-r.Context().Done()
	}))
	t.Cleanup(ds.Close)
	return ds
}

func (ds *diffServer) DiffIDs() []string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]string(nil), ds.diffIDs...)
}

// setup points the global options at srv and returns fresh flags
func setup(t *testing.T, srv *diffServer, args ...string) *pflag.FlagSet {
	cmd.Opt = config.DefaultOptions()
	cmd.Opt.Hostname = srv.URL
	cmd.Opt.NoServerLookup = true
	cmd.Opt.AuthToken = "session"
	cmd.Opt.StateFile = filepath.Join(t.TempDir(), "state.db")
	flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	addFlags(flagSet)
	require.NoError(t, flagSet.Parse(args))
	return flagSet
}

// runWatch runs watch until want lines are printed then stops it
func runWatch(t *testing.T, flagSet *pflag.FlagSet, want int) []string {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &lockedBuffer{}
	errc := make(chan error, 1)
	go func() {
		errc <- watch(ctx, flagSet, out)
	}()
	require.Eventually(t, func() bool {
		return out.Len() > 0 && len(out.Lines()) >= want
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
	return out.Lines()
}

func TestWatchPrintsAndSavesCursor(t *testing.T) {
	srv := newDiffServer(t)
	flagSet := setup(t, srv)

	lines := runWatch(t, flagSet, 2)
	require.Len(t, lines, 2)
	var e api.DiffEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, uint64(2), e.DiffID)
	assert.Equal(t, api.EventCreateFile, e.Event)
	assert.Equal(t, "a.txt", e.Metadata.Name)

	store, err := kv.Open(cmd.Opt.StateFile, kv.Options{Timeout: time.Second})
	require.NoError(t, err)
	state, found, err := store.Get("default")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(2), state.Cursor)
	require.NoError(t, store.Close())
}

func TestWatchResumes(t *testing.T) {
	srv := newDiffServer(t)
	flagSet := setup(t, srv, "--state", "mine")
	store, err := kv.Open(cmd.Opt.StateFile, kv.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Set("mine", 7))
	require.NoError(t, store.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- watch(ctx, flagSet, &lockedBuffer{})
	}()
	require.Eventually(t, func() bool { return len(srv.DiffIDs()) > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, "7", srv.DiffIDs()[0])
}

func TestWatchFromCursorOverridesState(t *testing.T) {
	srv := newDiffServer(t)
	flagSet := setup(t, srv, "--from-cursor", "3")
	store, err := kv.Open(cmd.Opt.StateFile, kv.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Set("default", 7))
	require.NoError(t, store.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- watch(ctx, flagSet, &lockedBuffer{})
	}()
	require.Eventually(t, func() bool { return len(srv.DiffIDs()) > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	assert.Equal(t, "3", srv.DiffIDs()[0])
}

func TestWatchFilters(t *testing.T) {
	srv := newDiffServer(t)
	flagSet := setup(t, srv, "--kind", "createfile,modifyfile", "--folder", "9", "--no-state")

	lines := runWatch(t, flagSet, 1)
	require.Len(t, lines, 1)
	var e api.DiffEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, uint64(2), e.DiffID)
}

func TestWatchBadKind(t *testing.T) {
	srv := newDiffServer(t)
	flagSet := setup(t, srv, "--kind", "teleport")
	err := watch(context.Background(), flagSet, &lockedBuffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teleport")
	assert.Empty(t, srv.DiffIDs())
}
