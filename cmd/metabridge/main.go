package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/metabridge-dev/metabridge/go/internal/cli"
)

func main() {
	cli.Execute()
}
