package main

import (
	"context"
	"fmt"
	"os"

	"github.com/damian-sirenko/signq/pkg/cli"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.RootCmd(version).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "signq: %v\n", err)
		os.Exit(1)
	}
}
