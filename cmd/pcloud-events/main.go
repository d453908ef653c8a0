// pcloud-events follows the change log of a pcloud account
package main

import (
	"github.com/pcloudkit/pcloud/cmd"
	_ "github.com/pcloudkit/pcloud/cmd/all" // import all commands
)

func main() {
	cmd.Main()
}
