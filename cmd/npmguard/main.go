package main

import (
	"fmt"
	"os"

	"github.com/apnisec/npmguard/pkg"
)

var version = "dev"

func main() {
	app := pkg.NewApp(version)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
