// Package watch provides the watch command.
package watch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/cmd"
	"github.com/pcloudkit/pcloud/events"
	"github.com/pcloudkit/pcloud/lib/fshttp"
	"github.com/pcloudkit/pcloud/lib/kv"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	metricsNamespace = "pcloud"
	storeLockTimeout = time.Second
	metricsPath      = "/metrics"
	shutdownTimeout  = 5 * time.Second
)

var (
	stream     cmd.StreamFlags
	kinds      []string
	folderID   uint64
	stateName  string
	noState    bool
	resetState bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	addFlags(commandDefinition.Flags())
}

func addFlags(cmdFlags *pflag.FlagSet) {
	stream.AddFlags(cmdFlags)
	cmdFlags.StringSliceVarP(&kinds, "kind", "", nil, "Only show events of this kind, may be repeated")
	cmdFlags.Uint64VarP(&folderID, "folder", "", 0, "Only show events in the folder with this id")
	cmdFlags.StringVarP(&stateName, "state", "", "default", "Name the cursor is saved under in --state-file")
	cmdFlags.BoolVarP(&noState, "no-state", "", false, "Don't resume from or save the cursor")
	cmdFlags.BoolVarP(&resetState, "reset-state", "", false, "Forget the saved cursor before starting")
}

var commandDefinition = &cobra.Command{
	Use:   "watch",
	Short: `Print account events as they happen.`,
	Long: `
Follows the change log of the account and prints each event as a line
of JSON on standard output until interrupted.

The diffid of every event printed is saved under the --state name in
the --state-file database and the next run resumes after it, unless
one of --from-cursor, --after or --last is given.

    pcloud-events watch --kind createfile --kind modifyfile --folder 1234

Kinds are the pcloud event names, eg createfolder, deletefolder,
modifyfolder, createfile, modifyfile, deletefile, requestsharein,
acceptedsharein, modifiedsharein, removedsharein and reset.

With --metrics-addr the stream and HTTP metrics are served for
prometheus on /metrics.
`,
	Args: cobra.NoArgs,
	Run: func(command *cobra.Command, args []string) {
		cmd.Run(command, func(ctx context.Context) error {
			return watch(ctx, command.Flags(), command.OutOrStdout())
		})
	},
}

// predicates turns the filter flags into stream filters
func predicates(flagSet *pflag.FlagSet) (preds []func(api.DiffEntry) bool, err error) {
	if len(kinds) > 0 {
		var eventKinds []api.EventKind
		for _, s := range kinds {
			kind, err := api.ParseEventKind(s)
			if err != nil {
				return nil, cmd.UsageError(err)
			}
			eventKinds = append(eventKinds, kind)
		}
		preds = append(preds, events.ByKind(eventKinds...))
	}
	if flagSet.Changed("folder") {
		preds = append(preds, events.InFolder(folderID))
	}
	return preds, nil
}

func watch(ctx context.Context, flagSet *pflag.FlagSet, out io.Writer) error {
	preds, err := predicates(flagSet)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	httpMetrics := fshttp.NewMetrics(metricsNamespace)
	streamMetrics := events.NewMetrics(metricsNamespace)
	registry.MustRegister(httpMetrics.Collectors()...)
	registry.MustRegister(streamMetrics.Collectors()...)
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := cmd.NewClient(ctx, httpMetrics)
	if err != nil {
		return err
	}
	defer cmd.CloseClient(c)

	req, err := stream.Request(c, flagSet)
	if err != nil {
		return err
	}

	var store *kv.Store
	if !noState {
		store, err = kv.Open(cmd.Opt.StateFile, kv.Options{Timeout: storeLockTimeout})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Errorf(store, "Failed to close: %v", closeErr)
			}
		}()
		if resetState {
			if err := store.Delete(stateName); err != nil {
				return err
			}
		}
		if !stream.Explicit() {
			state, found, err := store.Get(stateName)
			if err != nil {
				return err
			}
			if found {
				log.Infof(store, "Resuming %q after diffid %d saved %v", stateName, state.Cursor, state.Updated)
				req.AfterDiffID(state.Cursor)
			}
		}
	}

	s := req.Stream(ctx, events.WithMetrics(streamMetrics), events.WithName(stateName))
	defer s.Close()
	log.Infof(s, "Watching %s from %v", c, req.Config())
	var src events.Source[api.DiffEntry] = s
	for _, pred := range preds {
		stage := events.Filter[api.DiffEntry](src, pred)
		defer stage.Close()
		src = stage
	}

	g, gCtx := errgroup.WithContext(ctx)
	if cmd.Opt.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gCtx, cmd.Opt.MetricsAddr, registry)
		})
	}
	g.Go(func() error {
		return follow(gCtx, src, s, out, store)
	})
	return g.Wait()
}

// follow prints the events from src as JSON lines, saving the diffid
// of each one printed in store if set
func follow(ctx context.Context, src events.Source[api.DiffEntry], s *events.Stream, out io.Writer, store *kv.Store) error {
	enc := json.NewEncoder(out)
	for {
		e, ok := src.Next(ctx)
		if !ok {
			break
		}
		log.Debugf(s, "Event %v", &e)
		if err := enc.Encode(&e); err != nil {
			return errors.Wrap(err, "failed to write event")
		}
		if store != nil {
			if err := store.Set(stateName, e.DiffID); err != nil {
				return err
			}
		}
	}
	// src only runs dry once ctx is done or the stream has stopped
	return s.Err()
}

// serveMetrics serves the registry for prometheus until ctx is done
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Logf(nil, "Serving metrics on http://%s%s", addr, metricsPath)
	select {
	case err := <-errc:
		return errors.Wrap(err, "metrics server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
