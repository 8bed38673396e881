package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/validation"
)

func createCompilersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compilers",
		Short: "Manage cached compiler builds",
	}

	cmd.AddCommand(createCompilersListCmd())
	cmd.AddCommand(createCompilersDownloadCmd())

	return cmd
}

func createCompilersListCmd() *cobra.Command {
	var nightly bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List compiler builds available in the archive",
		Long: `List the soljson builds published in the compiler archive and whether each
one is already in the local cache.

EXAMPLES:
  # List releases
  contract-verify compilers list

  # Include nightly builds
  contract-verify compilers list --nightly

  # Output as JSON
  contract-verify compilers list --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompilersList(cmd.Context(), cmd.OutOrStdout(), nightly, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&nightly, "nightly", false, "include nightly builds")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createCompilersDownloadCmd() *cobra.Command {
	var fromRecords bool

	cmd := &cobra.Command{
		Use:   "download [version...]",
		Short: "Download compiler builds into the cache",
		Long: `Download soljson builds into the local cache so that verification runs do
not need the archive.

EXAMPLES:
  # Download one build
  contract-verify compilers download 0.4.11+commit.68ef5810

  # Download every build named by a contract record
  contract-verify compilers download --records
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !fromRecords {
				return fmt.Errorf("name at least one version or pass --records")
			}
			return runCompilersDownload(cmd.Context(), cmd.OutOrStdout(), args, fromRecords)
		},
	}

	cmd.Flags().BoolVar(&fromRecords, "records", false, "download every compiler used by the record store")

	return cmd
}

type compilerEntry struct {
	Version string `json:"version"`
	Cached  bool   `json:"cached"`
	Latest  bool   `json:"latest,omitempty"`
}

func runCompilersList(ctx context.Context, w io.Writer, nightly, jsonOutput bool) error {
	cfg, logger, err := commandLogger()
	if err != nil {
		return err
	}
	manager := newManager(cfg, logger)

	versions, err := manager.ListVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list compilers: %w", err)
	}

	var entries []compilerEntry
	var shown []string
	for _, v := range versions {
		if !nightly && validation.IsNightly(v) {
			continue
		}
		cached, err := manager.Cached(v)
		if err != nil {
			return err
		}
		entries = append(entries, compilerEntry{Version: v, Cached: cached})
		shown = append(shown, v)
	}
	latest := validation.LatestCompiler(shown, nightly)
	for i := range entries {
		entries[i].Latest = entries[i].Version == latest
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"compilers": entries,
			"count":     len(entries),
		})
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No compilers found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tCACHED")
	for _, e := range entries {
		version := e.Version
		if e.Latest {
			version += " (latest)"
		}
		cached := ""
		if e.Cached {
			cached = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\n", version, cached)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d compiler(s)\n", len(entries))

	return nil
}

func runCompilersDownload(ctx context.Context, w io.Writer, versions []string, fromRecords bool) error {
	cfg, logger, err := commandLogger()
	if err != nil {
		return err
	}
	manager := newManager(cfg, logger)

	if fromRecords {
		contracts, err := records.NewStore(cfg.Contracts.Dir, logger).LoadAll(ctx, nil)
		if err != nil {
			return fmt.Errorf("loading records: %w", err)
		}
		versions = append(versions, recordCompilers(contracts)...)
	}

	seen := make(map[string]bool)
	for _, v := range versions {
		if seen[v] {
			continue
		}
		seen[v] = true
		if err := validation.ValidateCompiler(v); err != nil {
			return fmt.Errorf("%s: %w", v, err)
		}

		cached, err := manager.Cached(v)
		if err != nil {
			return err
		}
		if cached {
			fmt.Fprintf(w, "%s already cached\n", v)
			continue
		}
		if err := manager.Download(ctx, v); err != nil {
			return fmt.Errorf("downloading %s: %w", v, err)
		}
		fmt.Fprintf(w, "%s downloaded to %s\n", v, manager.Path(v))
	}
	return nil
}

// recordCompilers returns the distinct compilers used by contracts in first-seen order
func recordCompilers(contracts []*records.Contract) []string {
	seen := make(map[string]bool)
	var versions []string
	for _, c := range contracts {
		if !seen[c.Info.Compiler] {
			seen[c.Info.Compiler] = true
			versions = append(versions, c.Info.Compiler)
		}
	}
	return versions
}
