// Package cmd is the command line interface of pcloud-events
//
// Subcommands register themselves on Root from their init function.
package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pcloudkit/pcloud"
	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/config"
	"github.com/pcloudkit/pcloud/events"
	"github.com/pcloudkit/pcloud/lib/fshttp"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/spf13/cobra"
)

// Opt holds the global options once the command line is parsed
var Opt = config.DefaultOptions()

// Root is the main pcloud-events command
var Root = &cobra.Command{
	Use:   "pcloud-events",
	Short: "Follow the changes on a pcloud account.",
	Long: `
pcloud-events reads the change log of a pcloud account from the /diff
API and prints the events as JSON lines.

Options are read from a YAML config file, PCLOUD_* environment
variables and flags, the later overriding the earlier. The flag
--block-timeout is set with PCLOUD_BLOCK_TIMEOUT for example.
`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Exit codes
const (
	exitCodeSuccess = iota
	exitCodeUsageError
	exitCodeUncategorizedError
	exitCodeRetryError
	exitCodeNoRetryError
	exitCodeFatalError
)

const closeTimeout = 10 * time.Second

func init() {
	Opt.AddFlags(Root.PersistentFlags())
}

// usageError marks errors in the options
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// UsageError marks err as caused by the command line so the command
// exits with the usage status
func UsageError(err error) error {
	return usageError{err}
}

// initConfig resolves the options and sets up logging before any
// command runs
func initConfig(command *cobra.Command, args []string) error {
	if err := Opt.Resolve(command.Root().PersistentFlags()); err != nil {
		return usageError{err}
	}
	log.SetLevel(Opt.LogLevel)
	log.SetJSON(Opt.UseJSONLog)
	log.Debugf(nil, "pcloud-events %s using config %q", pcloud.Version, Opt.ConfigFile)
	return nil
}

// NewClient checks the credentials in Opt and connects to pcloud.
// metrics may be nil.
func NewClient(ctx context.Context, metrics *fshttp.Metrics) (*pcloud.Client, error) {
	if err := Opt.Validate(); err != nil {
		return nil, usageError{err}
	}
	return pcloud.New(ctx, Opt.ClientOptions(metrics))
}

// CloseClient closes c, logging out if asked to
func CloseClient(c *pcloud.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		log.Errorf(c, "Failed to close: %v", err)
	}
}

// exitCode chooses the exit status for the error a command returned
func exitCode(err error) int {
	var (
		usage    usageError
		apiErr   *api.Error
		fetchErr *events.FetchError
	)
	switch {
	case err == nil:
		return exitCodeSuccess
	case errors.As(err, &usage):
		return exitCodeUsageError
	case pcloud.Retryable(err):
		return exitCodeRetryError
	case errors.As(err, &apiErr):
		return exitCodeNoRetryError
	case errors.As(err, &fetchErr):
		return exitCodeFatalError
	default:
		return exitCodeUncategorizedError
	}
}

// Run runs f with a context cancelled by SIGINT or SIGTERM, logs the
// error it returns and exits
func Run(command *cobra.Command, f func(ctx context.Context) error) {
	ctx, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	err := f(ctx)
	stop()
	if err != nil {
		log.Errorf(nil, "Failed to %s: %v", command.Name(), err)
	}
	os.Exit(exitCode(err))
}

// Main runs pcloud-events interpreting flags and commands out of
// os.Args.  Errors parsing the command line exit with status 1, the
// same as exitCodeUsageError.
func Main() {
	if err := Root.ExecuteContext(context.Background()); err != nil {
		log.Fatalf(nil, "Fatal error: %v", err)
	}
}
