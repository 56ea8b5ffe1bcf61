/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/munindb/munin/pkg/config"
	"github.com/munindb/munin/pkg/store"
)

var (
	flagDataDir    string
	flagConfigPath string
	flagBlockSize  int
	flagResync     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "munin",
	Short: "Munin - blob log key-value store",
	Long: `Munin is a Bitcask-style key-value store whose values live in an
append-only blob log with per-record checksums and crash recovery.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data-dir", "d", "./data", "Data directory for the store")
	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "Path to a munin config file")
	rootCmd.PersistentFlags().IntVar(&flagBlockSize, "block-size", 0, "Blob log block size in bytes (0 = default)")
	rootCmd.PersistentFlags().StringVar(&flagResync, "resync", "", "Replay policy after corruption: abort or scan")
}

// storeConfig resolves the effective store configuration: the config file
// when given, overridden by explicit flags.
func storeConfig() (store.BlobStoreConfig, error) {
	cfg := config.DefaultConfig()
	if flagConfigPath != "" {
		loaded, err := config.LoadConfig(flagConfigPath)
		if err != nil {
			return store.BlobStoreConfig{}, err
		}
		cfg = loaded
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagBlockSize > 0 {
		cfg.BlockSize = flagBlockSize
	}
	if flagResync != "" {
		cfg.Resync = flagResync
	}

	policy, err := cfg.ResyncPolicy()
	if err != nil {
		return store.BlobStoreConfig{}, err
	}
	return store.BlobStoreConfig{
		DataDir:       cfg.DataDir,
		BlockSize:     cfg.BlockSize,
		FsyncInterval: time.Duration(cfg.FsyncInterval),
		IndexPath:     cfg.IndexPath,
		Resync:        policy,
	}, nil
}

// openStore opens the configured store and reports recovery findings.
func openStore() (*store.BlobStore, error) {
	storeCfg, err := storeConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.NewBlobStore(storeCfg)
	if err != nil {
		return nil, err
	}
	recovery, err := s.Open()
	if err != nil {
		return nil, err
	}
	if recovery.TruncatedBytes > 0 {
		fmt.Printf("Recovered from crash: %d torn bytes truncated\n", recovery.TruncatedBytes)
	}
	if recovery.CorruptionEvents > 0 {
		fmt.Printf("Replay skipped %d damaged records\n", recovery.CorruptionEvents)
	}
	return s, nil
}
