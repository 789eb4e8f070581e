// Package cli is the dlqctl command tree.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"fitness-messaging/internal/dlq"

	"github.com/spf13/cobra"
)

// Env is what a command needs once connected.
type Env struct {
	DLQ   *dlq.Manager
	Close func() error
}

// Opener connects to the broker, and to the archive when withArchive is set.
type Opener func(ctx context.Context, withArchive bool) (*Env, error)

// NewRootCommand builds dlqctl. open is called lazily by the subcommands that
// talk to the broker.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "dlqctl",
		Short: "Inspect and drain dead-letter queues",
		Long: `dlqctl operates on the "<queue>-dlq" dead-letter queue of a registered
logical queue. Messages are only removed from a dead-letter queue after
they were archived or re-published successfully.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newQueuesCmd(),
		newListCmd(open),
		newArchiveCmd(open),
		newReplayCmd(open),
		newPurgeCmd(open),
	)
	return root
}

// Execute runs dlqctl with the process arguments. SIGINT stops a running
// drain between messages.
func Execute(open Opener) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(NewRootCommand(open).ExecuteContext(ctx))
}

// withEnv opens the environment for one command run and closes it afterwards.
func withEnv(cmd *cobra.Command, open Opener, withArchive bool, fn func(env *Env) error) (err error) {
	env, err := open(cmd.Context(), withArchive)
	if err != nil {
		return err
	}
	defer func() {
		if env.Close == nil {
			return
		}
		if closeErr := env.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(env)
}
