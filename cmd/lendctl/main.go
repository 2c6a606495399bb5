package main

import (
	"os"

	"p2plend/internal/cli"
)

func main() {
	if err := cli.Execute(os.Args[1:], os.Stdout); err != nil {
		os.Exit(1)
	}
}
