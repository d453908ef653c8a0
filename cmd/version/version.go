// Package version provides the version command.
package version

import (
	"fmt"
	"io"
	"runtime"

	"github.com/pcloudkit/pcloud"
	"github.com/pcloudkit/pcloud/cmd"
	"github.com/spf13/cobra"
)

func init() {
	cmd.Root.AddCommand(commandDefinition)
}

var commandDefinition = &cobra.Command{
	Use:   "version",
	Short: `Show the version number.`,
	Long: `
Show the pcloud-events version number, the go version and the build
target OS and architecture.

    $ pcloud-events version
    pcloud-events v0.1.0
    - os/arch: linux/amd64
    - go/version: go1.18
`,
	Args: cobra.NoArgs,
	// The version is shown even when the config can't be read
	PersistentPreRun: func(command *cobra.Command, args []string) {},
	Run: func(command *cobra.Command, args []string) {
		showVersion(command.OutOrStdout())
	},
}

func showVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "pcloud-events %s\n", pcloud.Version)
	_, _ = fmt.Fprintf(w, "- os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(w, "- go/version: %s\n", runtime.Version())
}
