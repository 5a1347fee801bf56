// Command keepsync is a thin CLI over the sync session: it manages the local
// account, inspects containers, peers and items, and keeps caches in sync
// with push notifications.
package main

import "github.com/atinyakov/keepsync/cmd/keepsync/cmd"

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	cmd.Execute(version, buildDate)
}
