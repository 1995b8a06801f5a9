// Command facesyncctl is the operator CLI for facesync.
package main

import (
	"os"

	"github.com/your-org/facesync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
