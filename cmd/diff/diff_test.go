package diff

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pcloudkit/pcloud/cmd"
	"github.com/pcloudkit/pcloud/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pages serves the change log two events at a time
func pages(t *testing.T) (*httptest.Server, func() []string) {
	var (
		mu    sync.Mutex
		calls []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		calls = append(calls, q.Encode())
		mu.Unlock()
		assert.Equal(t, "", q.Get("block"))
		switch q.Get("diffid") {
		case "":
			_, _ = w.Write([]byte(`{"result": 0, "diffid": 2, "entries": [
				{"diffid": 1, "event": "createfolder", "time": "Sun, 16 Mar 2014 17:26:04 +0000", "metadata": {"name": "docs", "isfolder": true, "folderid": 9}},
				{"diffid": 2, "event": "createfile", "time": "Sun, 16 Mar 2014 17:26:05 +0000", "metadata": {"name": "a.txt", "parentfolderid": 9}}
			]}`))
		case "2":
			_, _ = w.Write([]byte(`{"result": 0, "diffid": 3, "entries": [
				{"diffid": 3, "event": "deletefile", "time": "Sun, 16 Mar 2014 17:26:06 +0000", "metadata": {"name": "a.txt", "parentfolderid": 9}}
			]}`))
		default:
			_, _ = w.Write([]byte(`{"result": 0, "diffid": 3, "entries": []}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), calls...)
	}
}

func setup(t *testing.T, root string, args ...string) *pflag.FlagSet {
	cmd.Opt = config.DefaultOptions()
	cmd.Opt.Hostname = root
	cmd.Opt.NoServerLookup = true
	cmd.Opt.AuthToken = "session"
	cmd.Opt.Limit = 2
	flagSet := pflag.NewFlagSet("diff", pflag.ContinueOnError)
	addFlags(flagSet)
	require.NoError(t, flagSet.Parse(args))
	return flagSet
}

func TestDiffOnce(t *testing.T) {
	srv, calls := pages(t)
	flagSet := setup(t, srv.URL)
	var out bytes.Buffer
	require.NoError(t, diff(context.Background(), flagSet, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"createfolder"`)
	assert.Len(t, calls(), 1)
	assert.Contains(t, calls()[0], "limit=2")
}

func TestDiffAll(t *testing.T) {
	srv, calls := pages(t)
	flagSet := setup(t, srv.URL, "--all")
	var out bytes.Buffer
	require.NoError(t, diff(context.Background(), flagSet, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `"diffid":3`)
	assert.Len(t, calls(), 3)
}

func TestDiffFromCursor(t *testing.T) {
	srv, calls := pages(t)
	flagSet := setup(t, srv.URL, "--from-cursor", "2")
	var out bytes.Buffer
	require.NoError(t, diff(context.Background(), flagSet, &out))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	require.Len(t, calls(), 1)
	assert.Contains(t, calls()[0], "diffid=2")
}

func TestDiffNeedsToken(t *testing.T) {
	srv, calls := pages(t)
	flagSet := setup(t, srv.URL)
	cmd.Opt.AuthToken = ""
	err := diff(context.Background(), flagSet, &bytes.Buffer{})
	require.Error(t, err)
	assert.Empty(t, calls())
}
