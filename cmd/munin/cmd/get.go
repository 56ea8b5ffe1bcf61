package cmd

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/munindb/munin/pkg/store"
)

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the value for a key",
	Long: `Get the value for a key from the store.

Example:
  munin get mykey`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := []byte(args[0])

		s, err := openStore()
		if err != nil {
			fmt.Printf("Error opening store: %v\n", err)
			return
		}
		defer s.Close()

		value, err := s.Get(key)
		if err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				fmt.Printf("Key '%s' not found\n", string(key))
				os.Exit(1)
			}
			fmt.Printf("Error getting key: %v\n", err)
			return
		}

		fmt.Println(string(value))
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
