package main

import (
	"fmt"
	"os"

	"inferd/internal/inferctl"
)

func main() {
	if err := inferctl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
