package main

import (
	"log"

	"github.com/BIwashi/candump/app/convert"
	"github.com/BIwashi/candump/app/decode"
	"github.com/BIwashi/candump/pkg/cli"
)

func main() {
	c := cli.NewCLI(
		"candump",
		"Parse, decode and convert textual CAN capture logs.",
	)

	c.AddCommands(
		convert.NewCommand(),
		decode.NewCommand(),
	)

	if err := c.Run(); err != nil {
		log.Fatal(err)
	}
}
