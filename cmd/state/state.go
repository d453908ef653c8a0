// Package state provides the state command.
package state

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pcloudkit/pcloud/cmd"
	"github.com/pcloudkit/pcloud/lib/kv"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/spf13/cobra"
)

var deleteNames []string

func init() {
	cmd.Root.AddCommand(commandDefinition)
	commandDefinition.Flags().StringArrayVarP(&deleteNames, "delete", "", nil, "Forget the cursor saved under this name, may be repeated")
}

var commandDefinition = &cobra.Command{
	Use:   "state",
	Short: `List the cursors saved by watch.`,
	Long: `
Lists the names in --state-file with the diffid saved under each and
when it was saved.

    $ pcloud-events state
    default     1234  2022-06-01T10:00:00Z

Use --delete to forget a cursor so the next watch under that name
starts from the beginning of the change log.
`,
	Args: cobra.NoArgs,
	Run: func(command *cobra.Command, args []string) {
		cmd.Run(command, func(ctx context.Context) error {
			return state(command.OutOrStdout())
		})
	},
}

func state(out io.Writer) (err error) {
	store, err := kv.Open(cmd.Opt.StateFile, kv.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); err == nil {
			err = closeErr
		}
	}()
	for _, name := range deleteNames {
		if err := store.Delete(name); err != nil {
			return err
		}
		log.Logf(store, "Deleted cursor %q", name)
	}
	names, err := store.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		s, _, err := store.Get(name)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%-10s %6d  %s\n", name, s.Cursor, s.Updated.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return nil
}
