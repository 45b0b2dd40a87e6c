package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/tracing"
)

func newRetrieveCmd() *cobra.Command {
	var (
		k       int
		keyword bool
		asJSON  bool
		trace   bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <claim>",
		Short: "Retrieve the top-k documents for one claim",
		Example: `  hover retrieve "Skagen Painter Peder Severin Krøyer favored naturalism"
  hover retrieve --keyword "krøyer AND naturalism NOT impressionism" -k 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("top-k") {
				k = cfg.Search.DefaultK
			}
			engine, err := openEngine(true, nil)
			if err != nil {
				return err
			}
			defer engine.Close()
			exec, _, err := newExecutor(engine, nil, false)
			if err != nil {
				return err
			}

			query := strings.Join(args, " ")
			plan := parser.ParseClaim(query)
			if keyword {
				plan = parser.Parse(query)
			}
			ctx, span := tracing.StartSpan(cmd.Context(), "cli.retrieve", uuid.NewString())
			result, err := exec.Execute(ctx, plan, k)
			span.End()
			if trace {
				printTrace(cmd, span)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			return printHits(cmd, result)
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of documents to return (default search.defaultK)")
	cmd.Flags().BoolVar(&keyword, "keyword", false, "parse AND / OR / NOT operators instead of treating the text as a claim")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the timing of each retrieval stage to stderr")
	return cmd
}

func printHits(cmd *cobra.Command, result *executor.RetrievalResult) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "generation %d: %d of %d matching documents\n\n",
		result.Generation, len(result.Hits), result.TotalHits)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tTITLE\tFIRST SENTENCE")
	for i, h := range result.Hits {
		first := ""
		if len(h.Sentences) > 0 {
			first = truncate(strings.TrimSpace(h.Sentences[0]), 80)
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, h.Score, h.Title, first)
	}
	return tw.Flush()
}

func printTrace(cmd *cobra.Command, root *tracing.Span) {
	out := cmd.ErrOrStderr()
	root.Walk(func(s *tracing.Span, depth int) {
		fmt.Fprintf(out, "%s%-10s %8.3fms", strings.Repeat("  ", depth), s.Name, float64(s.Duration.Microseconds())/1000)
		keys := make([]string, 0, len(s.Attrs))
		for k := range s.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, " %s=%v", k, s.Attrs[k])
		}
		fmt.Fprintln(out)
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
