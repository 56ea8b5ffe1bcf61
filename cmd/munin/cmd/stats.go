package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			fmt.Printf("Error opening store: %v\n", err)
			return
		}
		defer s.Close()

		stats, err := s.Stats()
		if err != nil {
			fmt.Printf("Error reading stats: %v\n", err)
			return
		}

		fmt.Printf("Log:    %s\n", s.LogPath())
		fmt.Printf("Keys:   %d\n", stats.Keys)
		fmt.Printf("Size:   %d bytes\n", stats.DataSize)
		fmt.Printf("Sealed: %v\n", stats.Sealed)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
