package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"tenantrag/internal/domain"
	"tenantrag/internal/extract"
	"tenantrag/internal/tui"
)

func (c *cli) ingestCmd() *cobra.Command {
	var docID string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Index text, markdown or PDF files for the tenant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			paths := expand(args)
			if docID != "" && len(paths) != 1 {
				return errors.New("--id needs exactly one file")
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range paths {
				if !extract.Supported(path) {
					fmt.Fprintf(out, "skip %s: unsupported file type\n", path)
					continue
				}
				res, err := p.IngestFile(cmd.Context(), path, "", docID)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s: %d chunks, %d characters (id %s)\n",
					filepath.Base(path), res.ChunksCreated, res.Characters, res.DocumentID)
				if res.Summary != "" {
					fmt.Fprintf(out, "     %s\n", res.Summary)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(paths))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docID, "id", "", "document id (default derived from tenant and file name)")
	return cmd
}

func (c *cli) askCmd() *cobra.Command {
	var (
		k      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the tenant's documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			ans, err := p.Ask(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), ans)
			}
			printAnswer(cmd.OutOrStdout(), ans)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of passages to retrieve (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer as JSON")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Show the passages nearest to a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			results, err := p.Query(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "[%d] %s #%d  relevance=%.3f distance=%.4f\n", i+1, r.Chunk.Source, r.Chunk.Index, r.Relevance(), r.Distance)
				fmt.Fprintf(out, "    %s\n", snippet(r.Chunk.Text, 200))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of passages (default from config)")
	return cmd
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the tenant's namespace size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			info, err := p.Info(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "namespace %s: %d chunks (%s)\n", info.Tenant.Namespace(), info.Count, info.Backend)
			return nil
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete every indexed chunk of the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			existed, err := p.DeleteNamespace(cmd.Context())
			if err != nil {
				return err
			}
			if existed {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", p.Tenant().Namespace())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s did not exist\n", p.Tenant().Namespace())
			}
			return nil
		},
	}
}

func (c *cli) removeDocCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-doc <document-id>",
		Short: "Remove one document's chunks from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			n, err := p.RemoveDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d chunks of %s\n", n, args[0])
			return nil
		},
	}
}

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [file]...",
		Short: "Ingest optional files and open the interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.pipeline()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			for _, path := range expand(args) {
				if _, err := p.IngestFile(ctx, path, "", ""); err != nil {
					return err
				}
			}
			info, err := p.Info(ctx)
			if err != nil {
				return err
			}
			summary := fmt.Sprintf("%d chunks indexed in %s", info.Count, info.Backend)
			m := tui.New(ctx, p, c.cfg.Retrieval.TopK, summary)
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

// expand resolves glob patterns, keeping arguments that match nothing.
func expand(args []string) []string {
	var out []string
	for _, a := range args {
		matches, _ := filepath.Glob(a)
		if len(matches) == 0 {
			matches = []string{a}
		}
		out = append(out, matches...)
	}
	return out
}

func printAnswer(w io.Writer, ans domain.Answer) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintf(w, "\nconfidence %.2f\n", ans.Confidence)
	for i, s := range ans.Sources {
		fmt.Fprintf(w, "  [%d] %s (%s) %.3f\n", i+1, s.Name, s.ChunkID, s.Score)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
