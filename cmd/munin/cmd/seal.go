package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sealCmd represents the seal command
var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal the active blob log",
	Long: `Seal the active blob log by writing its footer. A sealed log is
read-only; verification tools can then cross-check the footer against the
records.

Example:
  munin seal`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		s, err := openStore()
		if err != nil {
			fmt.Printf("Error opening store: %v\n", err)
			return
		}
		defer s.Close()

		footer, err := s.Seal()
		if err != nil {
			fmt.Printf("Error sealing log: %v\n", err)
			return
		}

		fmt.Printf("Sealed %s: %s\n", s.LogPath(), footer)
	},
}

func init() {
	rootCmd.AddCommand(sealCmd)
}
