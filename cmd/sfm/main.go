// Package main is the sfm command line application.
package main

import (
	"log"
	"os"

	"go.viam.com/sfm/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
