// Command webhookadmin is an operator CLI for managing webhook
// subscriptions and inspecting delivery history against the same
// database the host process writes to.
package main

import (
	"fmt"
	"os"

	"github.com/ferriqa/webhooks/src/cmd/webhookadmin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
