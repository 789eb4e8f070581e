package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"unicode/utf8"

	"fitness-messaging/pkg/queues"

	"github.com/spf13/cobra"
)

const bodyPreviewLen = 60

func newQueuesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List registered logical queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range queues.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newListCmd(open Opener) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "Show dead letters without removing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, false, func(env *Env) error {
				letters, err := env.DLQ.List(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(letters)
				}

				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "MESSAGE ID\tRETRIES\tREASON\tBODY")
				for _, dl := range letters {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", dl.MessageID, dl.RetryCount, dl.Reason, preview(dl.Body))
				}
				if err := w.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(out, "%d message(s)\n", len(letters))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum messages to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print messages as JSON")
	return cmd
}

func newArchiveCmd(open Opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archive <queue>",
		Short: "Move dead letters into the MongoDB archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, true, func(env *Env) error {
				n, err := env.DLQ.Archive(cmd.Context(), args[0], limit)
				fmt.Fprintf(cmd.OutOrStdout(), "archived %d message(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum messages to archive (0 for all)")
	return cmd
}

func newReplayCmd(open Opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay <queue>",
		Short: "Re-publish dead letters to the main queue with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, false, func(env *Env) error {
				n, err := env.DLQ.Replay(cmd.Context(), args[0], limit)
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d message(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum messages to replay (0 for all)")
	return cmd
}

func newPurgeCmd(open Opener) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge <queue>",
		Short: "Drop every message on the dead-letter queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("purge discards messages permanently; pass --yes to confirm")
			}
			return withEnv(cmd, open, false, func(env *Env) error {
				n, err := env.DLQ.Purge(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d message(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

func preview(body []byte) string {
	s := string(body)
	if utf8.RuneCountInString(s) <= bodyPreviewLen {
		return s
	}
	return string([]rune(s)[:bodyPreviewLen]) + "..."
}
