// Package diff provides the diff command.
package diff

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pcloudkit/pcloud/cmd"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	stream cmd.StreamFlags
	all    bool
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
	addFlags(commandDefinition.Flags())
}

func addFlags(cmdFlags *pflag.FlagSet) {
	stream.AddFlags(cmdFlags)
	cmdFlags.BoolVarP(&all, "all", "", false, "Keep calling until every event so far is printed")
}

var commandDefinition = &cobra.Command{
	Use:   "diff",
	Short: `Print the events of one /diff call.`,
	Long: `
Makes a single call to /diff and prints the events returned as lines
of JSON. The diffid to pass to --from-cursor for the next batch is
logged.

With --all calls are repeated until the server has no more events.
Nothing waits for new events, use watch for that.
`,
	Args: cobra.NoArgs,
	Run: func(command *cobra.Command, args []string) {
		cmd.Run(command, func(ctx context.Context) error {
			return diff(ctx, command.Flags(), command.OutOrStdout())
		})
	},
}

func diff(ctx context.Context, flagSet *pflag.FlagSet, out io.Writer) error {
	c, err := cmd.NewClient(ctx, nil)
	if err != nil {
		return err
	}
	defer cmd.CloseClient(c)
	req, err := stream.Request(c, flagSet)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for {
		batch, err := req.Get(ctx)
		if err != nil {
			return err
		}
		for i := range batch.Entries {
			if err := enc.Encode(&batch.Entries[i]); err != nil {
				return errors.Wrap(err, "failed to write event")
			}
		}
		log.Logf(nil, "Got %d events, next call --from-cursor %d", len(batch.Entries), batch.DiffID)
		if !all || len(batch.Entries) == 0 {
			return nil
		}
		req.AfterDiffID(batch.DiffID)
	}
}
