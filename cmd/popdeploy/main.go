// Command popdeploy deploys contracts idempotently and serves the
// deployment registry.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
