// Command reactorctl hosts reactor-go's TCP and UDP echo services behind
// a small cobra CLI, reading server settings from an optional TOML file
// and exposing Prometheus metrics over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "reactorctl",
		Short: "reactor-go service host",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
