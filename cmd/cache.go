package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/internal/logging"
	"github.com/Zerofisher/canids/pkg/model"
	"github.com/Zerofisher/canids/pkg/store"
	"github.com/Zerofisher/canids/pkg/store/sqlite"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Manage the feature cache",
	Long:    `Inspect and clear extracted feature tables stored in the cache database.`,
	GroupID: "features",
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List cached feature tables",
	Example: `  canids cache list`,
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE:    runCacheList,
}

var cacheDeleteCmd = &cobra.Command{
	Use:     "delete <signature>...",
	Short:   "Delete cached entries",
	Long:    `Delete cache entries by signature. A unique prefix of a signature is enough.`,
	Example: `  canids cache delete 3f9a1c0b2e7d`,
	Aliases: []string{"rm"},
	Args:    cobra.MinimumNArgs(1),
	RunE:    runCacheDelete,
}

var cachePurgeCmd = &cobra.Command{
	Use:     "purge",
	Short:   "Delete every cached entry",
	Example: `  canids cache purge`,
	Args:    cobra.NoArgs,
	RunE:    runCachePurge,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

// openCache opens the configured cache database even when caching is disabled
// for extraction.
func openCache(cmd *cobra.Command) (store.Cache, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	c, err := sqlite.New(sqlite.Config{DBPath: cfg.Cache.Path, WAL: true, Logger: logging.Component("cache")})
	if err != nil {
		return nil, fmt.Errorf("open feature cache: %w", err)
	}
	return c, nil
}

// runCacheList lists complete cache entries
func runCacheList(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	fmt.Printf("%-12s  %-10s  %10s  %10s  %-19s  %s\n", "Signature", "Features", "Train", "Test", "Created", "Sources")
	fmt.Println(strings.Repeat("-", 90))
	for _, e := range entries {
		fmt.Printf("%-12s  %-10s  %10d  %10d  %-19s  %s\n",
			shortSig(e.Signature), e.FeatureSet, e.TrainRows, e.TestRows,
			e.CreatedAt.Local().Format(time.DateTime), strings.Join(e.Sources, ", "))
	}
	return nil
}

// runCacheDelete deletes entries matching each signature prefix
func runCacheDelete(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list cache: %w", err)
	}
	for _, prefix := range args {
		sig, err := resolveSignature(entries, prefix)
		if err != nil {
			return err
		}
		if err := c.Delete(cmd.Context(), sig); err != nil {
			return fmt.Errorf("delete %s: %w", shortSig(sig), err)
		}
		fmt.Printf("Deleted %s\n", shortSig(sig))
	}
	return nil
}

// runCachePurge deletes every entry
func runCachePurge(cmd *cobra.Command, args []string) error {
	c, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	n, err := c.Purge(cmd.Context())
	if err != nil {
		return fmt.Errorf("purge cache: %w", err)
	}
	fmt.Printf("Deleted %d entries\n", n)
	return nil
}

// resolveSignature expands a unique signature prefix.
func resolveSignature(entries []model.EntryInfo, prefix string) (string, error) {
	var match string
	for _, e := range entries {
		if !strings.HasPrefix(e.Signature, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("signature prefix %q is ambiguous", prefix)
		}
		match = e.Signature
	}
	if match == "" {
		return "", fmt.Errorf("no cache entry matches %q", prefix)
	}
	return match, nil
}

func shortSig(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}
