// Command chipower estimates the power of a chi-squared goodness-of-fit test
// and searches for the smallest sample size that detects a given deviation
// from the null distribution.
package main

import (
	"fmt"
	"os"

	"github.com/copyleftdev/chipower/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}
