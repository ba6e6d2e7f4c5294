package main

import (
	"raygate/cmd"

	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
