// Command loomworkd is the composition root: it wires the Durable Store,
// Quota & Budget Governor, Model Router, Tier Resolver, Workflow Executor,
// and Evolution Engine together behind a thin cobra CLI. Grounded on the
// teacher's cmd/overhuman/main.go bootstrap() wiring and
// cuemby-warren/cmd/warren/main.go's cobra root command structure.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
