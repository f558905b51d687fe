// Package cmd provides the CLI commands for the authorization core.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/velro/authz-core/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "authz-core",
	Short: "Authorization core - Request Pipeline Gate and Authorization Orchestrator",
	Long: `authz-core is the Request Pipeline Gate and ten-layer Authorization
Orchestrator for resource access decisions, backed by the Hierarchical
Cache Core.

Quick start:
  1. Create a config file: authz-core.yaml
  2. Run: authz-core start

Configuration:
  Config is loaded from authz-core.yaml in the current directory,
  $HOME/.authz-core/, or /etc/authz-core/.

  Environment variables can override config values with the AUTHZ_CORE_
  prefix. Example: AUTHZ_CORE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the authorization server
  selfcheck   Run the Emergency Fallback self-test and exit
  stop        Stop the running server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./authz-core.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
