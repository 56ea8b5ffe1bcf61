package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/munindb/munin/pkg/bloblog"
)

var verifyRequireSealed bool

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Verify the integrity of a blob log file",
	Long: `Verify a blob log file: every record checksum, the fragment
framing, and the footer when present. Exits non-zero if any damage is
found.

Example:
  munin verify data/2B8cq6tZfM5yCyh0GbZVtcbqRRW.blob --require-sealed`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reader, err := bloblog.OpenFileReader(args[0], bloblog.ReaderOptions{
			BlockSize:     blockSizeOrDefault(),
			Resync:        bloblog.ResyncScan,
			RequireSealed: verifyRequireSealed,
		})
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			os.Exit(1)
		}
		defer reader.Close()

		var damaged int
		for {
			_, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				damaged++
				fmt.Printf("damage: %v\n", err)
			}
		}
		damaged += len(reader.Warnings())
		for _, warning := range reader.Warnings() {
			fmt.Printf("warning: %s\n", warning)
		}

		if damaged > 0 {
			fmt.Printf("FAILED: %d problems, %d entries readable\n", damaged, reader.EntryCount())
			os.Exit(1)
		}
		fmt.Printf("OK: %d entries, sealed=%v\n", reader.EntryCount(), reader.Sealed())
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyRequireSealed, "require-sealed", false, "Fail if the file has no footer")
}
