package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var putTTL time.Duration

// putCmd represents the put command
var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "Put a key-value pair",
	Long: `Put a key-value pair into the store.

Example:
  munin put mykey myvalue
  munin put session:42 token --ttl 1h`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key := []byte(args[0])
		value := []byte(args[1])

		s, err := openStore()
		if err != nil {
			fmt.Printf("Error opening store: %v\n", err)
			return
		}
		defer s.Close()

		if putTTL > 0 {
			expiresAt := uint64(time.Now().Add(putTTL).Unix())
			err = s.PutWithTTL(key, value, expiresAt)
		} else {
			err = s.Put(key, value)
		}
		if err != nil {
			fmt.Printf("Error putting key-value: %v\n", err)
			return
		}

		fmt.Printf("Successfully put key '%s'\n", string(key))
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().DurationVar(&putTTL, "ttl", 0, "Expire the key after this duration")
}
