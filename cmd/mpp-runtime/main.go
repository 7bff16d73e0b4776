// Command mpp-runtime runs a simulated distributed series-count query:
// one producer driver per shard counts its series into an exchange sink,
// and a merge driver combines the per-shard counts.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
