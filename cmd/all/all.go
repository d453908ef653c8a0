// Package all imports all the commands
package all

import (
	// Active commands
	_ "github.com/pcloudkit/pcloud/cmd/diff"
	_ "github.com/pcloudkit/pcloud/cmd/state"
	_ "github.com/pcloudkit/pcloud/cmd/userinfo"
	_ "github.com/pcloudkit/pcloud/cmd/version"
	_ "github.com/pcloudkit/pcloud/cmd/watch"
)
