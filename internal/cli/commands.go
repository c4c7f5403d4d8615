package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ragstore/internal/domain"
	"ragstore/internal/server"
	"ragstore/internal/summarizer"
	"ragstore/internal/tui"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Load the snapshot, or build and persist it from the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d passages in %s\n",
					a.svc.State(), a.svc.Passages(), a.cfg.Store.SnapshotPath)
				return nil
			})
		},
	}
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Print the passages most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd.Context(), opts, func(a *app) error {
				n := k
				if !cmd.Flags().Changed("k") {
					n = a.svc.DefaultK()
				}
				results, err := a.svc.Search(cmd.Context(), query, n)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No results.")
					return nil
				}
				return printResults(cmd, results)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of passages to return (defaults to prompt.default_k)")
	return cmd
}

var gist = summarizer.NewFrequency()

// printResults shows each passage by its most representative sentence.
func printResults(cmd *cobra.Command, results []domain.SearchResult) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tSOURCE\tTEXT")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, r.Score, r.Passage.Metadata[domain.MetadataSource], snippet(gist.Gist(r.Passage.Text, 1), 80))
	}
	return w.Flush()
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n-3]) + "..."
}

func newPromptCmd(opts *rootOptions) *cobra.Command {
	var noContext, stuff bool
	cmd := &cobra.Command{
		Use:   "prompt <text>",
		Short: "Print the prompt assembled for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd.Context(), opts, func(a *app) error {
				render := a.svc.AssemblePrompt
				if stuff {
					render = a.svc.Stuff
				}
				p, err := render(cmd.Context(), query, !noContext)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noContext, "no-context", false, "Leave the documents slot empty")
	cmd.Flags().BoolVar(&stuff, "stuff", false, "Use the stuffing template")
	return cmd
}

func newAnswerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "answer <text>",
		Short: "Assemble a prompt and send it to the configured completion service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd.Context(), opts, func(a *app) error {
				out, err := a.svc.Answer(cmd.Context(), query)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bootstrap the store and serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				cfg := a.cfg.Server
				if addr != "" {
					cfg.Addr = addr
				}
				srv := server.New(server.Config{
					Addr:            cfg.Addr,
					ReadTimeout:     cfg.ReadTimeout,
					WriteTimeout:    cfg.WriteTimeout,
					ShutdownTimeout: cfg.ShutdownTimeout,
				}, a.svc, a.metrics, nil)
				return srv.Run(cmd.Context())
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the interactive query console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				summary := fmt.Sprintf("%d passages · %s · k=%d", a.svc.Passages(), a.svc.State(), a.svc.DefaultK())
				p := tea.NewProgram(tui.New(a.svc, a.svc.DefaultK(), summary), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
				if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return fmt.Errorf("tui error: %w", err)
				}
				return nil
			})
		},
	}
}
