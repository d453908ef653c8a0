// Package userinfo provides the userinfo command.
package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pcloudkit/pcloud/api"
	"github.com/pcloudkit/pcloud/cmd"
	"github.com/spf13/cobra"
)

var jsonOutput = false

func init() {
	cmd.Root.AddCommand(commandDefinition)
	commandDefinition.Flags().BoolVarP(&jsonOutput, "json", "", jsonOutput, "Format output as JSON")
}

var commandDefinition = &cobra.Command{
	Use:   "userinfo",
	Short: `Show the account the credentials belong to.`,
	Long: `
Shows the email, quota and plan of the account. This is a quick way to
check the credentials and the API server in use.

    $ pcloud-events userinfo
    Email:      user@example.com (verified)
    User ID:    42
    Premium:    false
    Quota:      10737418240
    Used:       1024
    Free:       10737417216
    Registered: 2014-03-16T17:26:04Z
`,
	Args: cobra.NoArgs,
	Run: func(command *cobra.Command, args []string) {
		cmd.Run(command, func(ctx context.Context) error {
			return userInfo(ctx, command.OutOrStdout())
		})
	},
}

func userInfo(ctx context.Context, out io.Writer) error {
	c, err := cmd.NewClient(ctx, nil)
	if err != nil {
		return err
	}
	defer cmd.CloseClient(c)
	info, err := c.UserInfo(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "\t")
		return enc.Encode(info)
	}
	return printInfo(out, info)
}

func printInfo(out io.Writer, info *api.UserInfo) error {
	verified := "not verified"
	if info.EmailVerified {
		verified = "verified"
	}
	_, err := fmt.Fprintf(out, `Email:      %s (%s)
User ID:    %d
Premium:    %v
Quota:      %d
Used:       %d
Free:       %d
Registered: %s
`, info.Email, verified, info.UserID, info.Premium, info.Quota, info.UsedQuota, info.Quota-info.UsedQuota,
		time.Time(info.Registered).UTC().Format(time.RFC3339))
	return err
}
