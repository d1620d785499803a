package cmd

import "github.com/spf13/cobra"

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset provider rate-limit state",
	Long: `Inspect and reset the per-endpoint request windows kept for the search and
LLM providers. State lives in the configured store (memory, libsql or redis);
the memory store only holds state for the lifetime of one process.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
