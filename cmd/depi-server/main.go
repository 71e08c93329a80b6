package main

import (
	"fmt"
	"os"

	"github.com/caid-tools/depi/cmd/depi-server/app"
)

func main() {
	if err := app.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
