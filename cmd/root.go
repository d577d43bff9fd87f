// Package cmd contains the sage CLI: serve starts the HTTP API, migrate
// applies the database schema, version prints build information.
package cmd

import (
	"github.com/spf13/cobra"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "sage",
	Short: "sage - retrieval-augmented knowledge base and assessment service",
	Long: `sage ingests documents into vector-indexed knowledge bases, answers
questions over them with retrieval-augmented generation, and runs
self-assessment quizzes graded against the source material.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")
}
