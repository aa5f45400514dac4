package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/OmidH/llm-to-matrix/pkg/conversation"
)

var historyOpts struct {
	sender string
	kind   string
	limit  int
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent conversation entries for a sender and/or kind",
	Example: `  llmbot history --sender @alice:example.org
  llmbot history --kind code --limit 10`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyOpts.sender, "sender", "", "Sender user id")
	historyCmd.Flags().StringVar(&historyOpts.kind, "kind", "", "Message kind: default, custom, code or link")
	historyCmd.Flags().IntVar(&historyOpts.limit, "limit", conversation.DefaultLimit, "Maximum number of entries")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	q := conversation.Query{Sender: historyOpts.sender, Limit: historyOpts.limit}
	if historyOpts.kind != "" {
		if q.Kind, err = conversation.ParseKind(historyOpts.kind); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	log, err := conversation.Open(ctx, cfg.Storage.Database)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}
	defer log.Close()

	entries, err := log.Recent(ctx, q)
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), entries)
}

func printEntries(w io.Writer, entries []conversation.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tROLE\tKIND\tSENDER\tMODEL\tCONTENT")
	for _, e := range entries {
		model := "-"
		if e.Model != nil {
			model = *e.Model
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.DateTime), e.Role, e.Kind, e.Sender, model, oneLine(e.Content, 80))
	}
	return tw.Flush()
}

func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return string(r)
}
