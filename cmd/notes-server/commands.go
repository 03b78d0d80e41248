package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehr/notes/internal/domain/notes"
	"github.com/ehr/notes/internal/platform/endpoints"
	"github.com/ehr/notes/internal/platform/fhir"
	"github.com/ehr/notes/internal/platform/rendercache"
)

// withApp loads config, builds the app and runs fn.
func withApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fetchCmd() *cobra.Command {
	var encounter, filter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fetch <resourceType>",
		Short: "Search the FHIR server and list resources in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{fhir: true}, func(ctx context.Context, a *app) error {
				rs, err := a.notes.ListResources(ctx, fhir.ResourceQuery{
					ResourceType: args[0],
					Filter:       filter,
					Encounter:    encounter,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, rs)
				}
				return printSummaries(out, rs)
			})
		},
	}
	cmd.Flags().StringVar(&encounter, "encounter", "", "Restrict results to one encounter id")
	cmd.Flags().StringVar(&filter, "filter", "", "Extra search parameters, e.g. 'status=current'")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw resources as JSON")
	return cmd
}

func printSummaries(w io.Writer, rs []fhir.Resource) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUMMARY\tDETAILS")
	for _, r := range rs {
		s := notes.Summarize(r)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID, s.Primary, strings.Join(s.Secondary, "; "))
	}
	return tw.Flush()
}

func attachmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attachments <documentId>",
		Short: "Show how each attachment of a DocumentReference scores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{fhir: true}, func(ctx context.Context, a *app) error {
				cands, err := a.notes.Candidates(ctx, args[0])
				if err != nil {
					return err
				}
				best, _ := bestIndex(cands)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tCONTENT TYPE\tFORMAT\tTIER\tSELECTED")
				for _, c := range cands {
					mark := ""
					if c.Index == best {
						mark = "*"
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", c.Index, c.Attachment.ContentType, c.Format, c.Tier, mark)
				}
				return tw.Flush()
			})
		},
	}
}

func bestIndex(cands []notes.ScoredCandidate) (int, bool) {
	best := -1
	tier := notes.TierUnsupported
	for _, c := range cands {
		if c.Tier > tier {
			best, tier = c.Index, c.Tier
		}
	}
	return best, best >= 0
}

func renderCmd() *cobra.Command {
	var outPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "render <documentId>",
		Short: "Render the best attachment of a DocumentReference to HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{fhir: true, database: true}, func(ctx context.Context, a *app) error {
				doc, err := a.notes.RenderDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return writeOutput(cmd, outPath, func(w io.Writer) error {
					if asJSON {
						return writeJSON(w, doc)
					}
					_, err := io.WriteString(w, doc.Markup)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print markup and source content type as JSON")
	return cmd
}

func writeOutput(cmd *cobra.Command, path string, fn func(w io.Writer) error) error {
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cdaCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "cda <file>",
		Short: "Render a local CDA document with the configured stylesheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				html, err := a.cda.Transform(ctx, raw)
				if err != nil {
					return err
				}
				return writeOutput(cmd, outPath, func(w io.Writer) error {
					_, err := io.WriteString(w, html)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func pdfCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "pdf <file>",
		Short: "Convert a PDF to HTML with the configured converter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{}, func(ctx context.Context, a *app) error {
				raw, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				html, err := a.converter.Convert(ctx, base64.StdEncoding.EncodeToString(raw))
				if err != nil {
					return err
				}
				return writeOutput(cmd, outPath, func(w io.Writer) error {
					_, err := io.WriteString(w, html)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func endpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints <query>",
		Short: "Search the endpoint directory by label",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{endpoints: true}, func(ctx context.Context, a *app) error {
				return writeJSON(cmd.OutOrStdout(), a.directory.Filter(args[0]))
			})
		},
	}
	cmd.AddCommand(endpointsImportCmd())
	return cmd
}

func endpointsImportCmd() *cobra.Command {
	var ehrType, clientID, mergePath string

	cmd := &cobra.Command{
		Use:   "import <bundle.json>",
		Short: "Convert a vendor's FHIR Endpoint Bundle into directory JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eps, err := importBundle(args[0], ehrType, clientID)
			if err != nil {
				return err
			}
			if mergePath != "" {
				existing, err := endpoints.Load(cmd.Context(), mergePath)
				if err != nil {
					return err
				}
				eps = append(existing, eps...)
			}
			return writeJSON(cmd.OutOrStdout(), endpoints.SortAndUnique(eps))
		},
	}
	cmd.Flags().StringVar(&ehrType, "type", endpoints.TypeEpic, "EHR type recorded on each endpoint")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id registered with the vendor")
	cmd.Flags().StringVar(&mergePath, "merge", "", "Existing directory JSON to merge with")
	return cmd
}

func importBundle(path, ehrType, clientID string) ([]endpoints.Endpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b fhir.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	return endpoints.FromBundle(&b, ehrType, clientID)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the render cache schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending render cache migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{database: true}, func(ctx context.Context, a *app) error {
				if a.pool == nil {
					return fmt.Errorf("DATABASE_URL is required")
				}
				m, err := rendercache.NewMigrator(a.pool)
				if err != nil {
					return err
				}
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show render cache migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, appOptions{database: true}, func(ctx context.Context, a *app) error {
				if a.pool == nil {
					return fmt.Errorf("DATABASE_URL is required")
				}
				m, err := rendercache.NewMigrator(a.pool)
				if err != nil {
					return err
				}
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the Postgres render cache",
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete rendered documents older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withApp(cmd, appOptions{database: true}, func(ctx context.Context, a *app) error {
				if a.pool == nil {
					return fmt.Errorf("DATABASE_URL is required")
				}
				n, err := rendercache.NewPGStore(a.pool, 0).Purge(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d rendered document(s).\n", n)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Age after which entries are deleted")
	cmd.AddCommand(purge)
	return cmd
}
