package main

import (
	"fmt"
	"os"

	"github.com/loupe-dev/loupe/cmd/loupe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loupe:", err)
		os.Exit(1)
	}
}
