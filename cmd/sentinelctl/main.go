// Command sentinelctl is the operator CLI: offline risk scoring, decoy
// session inspection and watermark rendering.
package main

import (
	"fmt"
	"os"

	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Build info - set by ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd(newApp(os.Stdout)).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
