package main

import (
	"os"

	"github.com/selinggonet/selinggonet/cmd/selinggoctl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
