package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a key",
	Long: `Delete a key from the store by writing a tombstone.

Example:
  munin delete mykey`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := []byte(args[0])

		s, err := openStore()
		if err != nil {
			fmt.Printf("Error opening store: %v\n", err)
			return
		}
		defer s.Close()

		if err := s.Delete(key); err != nil {
			fmt.Printf("Error deleting key: %v\n", err)
			return
		}

		fmt.Printf("Successfully deleted key '%s'\n", string(key))
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
