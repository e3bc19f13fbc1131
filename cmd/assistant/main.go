// Command assistant is the broker assistant CLI and HTTP server.
package main

import (
	"context"
	"os"

	"broker-assistant/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
