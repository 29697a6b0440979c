package main

import (
	"os"

	"github.com/wozorio/regclean/pkg/cli"
)

func main() {
	if err := cli.NewCliRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
