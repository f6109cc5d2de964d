package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marmos91/pixelpipe/internal/bytesize"
	"github.com/marmos91/pixelpipe/pkg/config"
)

var cachePurgeForce bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the disk cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show disk cache usage",
	Long: `Show on-disk size and file count for the configured cache directory.

The numbers reflect raw directory usage, including store metadata, so
they can exceed the configured size limit between sweeps.`,
	RunE: runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete the disk cache",
	Long: `Delete the configured cache directory and everything in it.

This is destructive and cannot be undone. Use --force to skip the
confirmation prompt.`,
	RunE: runCachePurge,
}

func init() {
	cachePurgeCmd.Flags().BoolVarP(&cachePurgeForce, "force", "f", false, "Skip confirmation prompt")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

func diskCachePath() (string, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return "", err
	}
	if !cfg.DiskCache.Enabled || cfg.DiskCache.Path == "" {
		return "", fmt.Errorf("disk cache is not enabled in configuration")
	}
	return cfg.DiskCache.Path, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	path, err := diskCachePath()
	if err != nil {
		return err
	}

	var totalSize int64
	var fileCount int
	err = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			totalSize += info.Size()
			fileCount++
		}
		return nil
	})
	if os.IsNotExist(err) {
		fmt.Printf("Cache directory %s does not exist (nothing cached yet)\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to walk cache directory: %w", err)
	}

	fmt.Printf("Cache directory: %s\n", path)
	fmt.Printf("  files: %d\n", fileCount)
	fmt.Printf("  size:  %s\n", bytesize.ByteSize(totalSize))
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	path, err := diskCachePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Cache directory %s does not exist, nothing to purge\n", path)
		return nil
	}

	if !cachePurgeForce {
		fmt.Printf("This will delete %s and all cached data. Continue? [y/N]: ", path)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	fmt.Printf("Purged %s\n", path)
	return nil
}
