package main

import (
	"fmt"
	"os"

	"github.com/hackforge/cachekit/coremain"
)

func main() {
	if err := coremain.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
