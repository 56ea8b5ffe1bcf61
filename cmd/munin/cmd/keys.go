package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// keysCmd represents the keys command
var keysCmd = &cobra.Command{
	Use:   "keys [prefix]",
	Short: "List keys, optionally by prefix",
	Long: `List all live keys in the store, optionally restricted to a prefix.

Example:
  munin keys
  munin keys user:`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var prefix []byte
		if len(args) == 1 {
			prefix = []byte(args[0])
		}

		s, err := openStore()
		if err != nil {
			fmt.Printf("Error opening store: %v\n", err)
			return
		}
		defer s.Close()

		keys, err := s.ListKeys(prefix)
		if err != nil {
			fmt.Printf("Error listing keys: %v\n", err)
			return
		}
		for _, key := range keys {
			fmt.Println(key)
		}
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
}
