// Package main implements the islandd daemon CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "islandd",
	Short: "Code and web-content indexing and retrieval daemon",
	Long: `islandd indexes source trees, git repositories, and crawled web pages
into per-(project, dataset) vector collections and answers hybrid
semantic queries over them.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: ~/.config/islandd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the islandd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}
