package main

import (
	"os"

	"github.com/openpriorauth/a4a-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
