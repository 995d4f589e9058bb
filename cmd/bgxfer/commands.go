package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Witriol/bgxfer/internal/client"
	"github.com/Witriol/bgxfer/internal/pipe"
	"github.com/Witriol/bgxfer/internal/protocol"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var (
		proxyFlag string
		watch     bool
		complete  bool
	)
	cmd := &cobra.Command{
		Use:   "start <url> <save-path>",
		Short: "Start a transfer job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proxy, err := protocol.ParseProxyUsage(proxyFlag)
			if err != nil {
				return err
			}
			c, err := ctx.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cfg := ctx.config
			id, mon, err := c.StartJob(cmd.Context(), args[0], args[1], proxy, cfg.Client.MonitorIntervalMS)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			if !watch && !complete {
				return nil
			}
			return watchJob(cmd.Context(), cmd.OutOrStdout(), c, mon, cfg.Client.StatusTimeoutMS, complete)
		},
	}
	cmd.Flags().StringVar(&proxyFlag, "proxy", "preconfig", "Proxy usage: preconfig, none or auto")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the job settles")
	cmd.Flags().BoolVar(&complete, "complete", false, "Complete the job once transferred (implies --watch)")
	return cmd
}

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	var (
		interval uint32
		timeout  uint32
		complete bool
	)
	cmd := &cobra.Command{
		Use:   "monitor <guid>",
		Short: "Follow a job's progress until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := protocol.ParseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			cfg := ctx.config
			if interval == 0 {
				interval = cfg.Client.MonitorIntervalMS
			}
			if timeout == 0 {
				timeout = cfg.Client.StatusTimeoutMS
			}
			mon, err := c.MonitorJob(cmd.Context(), id, interval)
			if err != nil {
				return err
			}
			return watchJob(cmd.Context(), cmd.OutOrStdout(), c, mon, timeout, complete)
		},
	}
	cmd.Flags().Uint32Var(&interval, "interval", 0, "Poll interval in milliseconds")
	cmd.Flags().Uint32Var(&timeout, "timeout", 0, "Wait per status update in milliseconds")
	cmd.Flags().BoolVar(&complete, "complete", false, "Complete the job once transferred")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <guid>",
		Short: "Show one status snapshot of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := protocol.ParseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := c.JobStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(id, st))
			return nil
		},
	}
}

// newJobCommand builds the commands that take a guid and call one Client
// method.
func newJobCommand(ctx *commandContext, use, short, done string, run func(context.Context, *client.Client, protocol.JobID) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <guid>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := protocol.ParseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := ctx.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := run(cmd.Context(), c, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", done, id)
			return nil
		},
	}
}

func newSuspendCommand(ctx *commandContext) *cobra.Command {
	return newJobCommand(ctx, "suspend", "Suspend a job", "suspended", func(ctx context.Context, c *client.Client, id protocol.JobID) error {
		return c.SuspendJob(ctx, id)
	})
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return newJobCommand(ctx, "resume", "Resume a suspended job", "resumed", func(ctx context.Context, c *client.Client, id protocol.JobID) error {
		return c.ResumeJob(ctx, id)
	})
}

func newCompleteCommand(ctx *commandContext) *cobra.Command {
	return newJobCommand(ctx, "complete", "Complete a transferred job", "completed", func(ctx context.Context, c *client.Client, id protocol.JobID) error {
		return c.CompleteJob(ctx, id)
	})
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return newJobCommand(ctx, "cancel", "Cancel a job", "cancelled", func(ctx context.Context, c *client.Client, id protocol.JobID) error {
		return c.CancelJob(ctx, id)
	})
}

func newPriorityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "priority <guid> foreground|normal",
		Short:     "Set a job's priority",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"foreground", "normal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := protocol.ParseJobID(args[0])
			if err != nil {
				return err
			}
			var foreground bool
			switch args[1] {
			case "foreground", "fg":
				foreground = true
			case "normal":
			default:
				return fmt.Errorf("unknown priority %q", args[1])
			}
			c, err := ctx.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SetJobPriority(cmd.Context(), id, foreground); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "priority %s: %s\n", args[1], id)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

// watchJob prints every snapshot until the job settles.
func watchJob(ctx context.Context, out io.Writer, c *client.Client, mon *client.Monitor, timeoutMS uint32, complete bool) error {
	id := mon.JobID()
	for {
		st, err := mon.GetStatus(ctx, timeoutMS)
		if errors.Is(err, pipe.ErrTimeout) && ctx.Err() == nil {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, progressLine(id, st))
		switch st.State {
		case protocol.StateTransferred:
			if !complete {
				return nil
			}
			if err := c.CompleteJob(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "completed: %s\n", id)
			return nil
		case protocol.StateError:
			detail := "unknown error"
			if st.Error != nil {
				detail = st.Error.String()
			}
			return fmt.Errorf("job %s failed: %s", id, detail)
		case protocol.StateCancelled, protocol.StateAcknowledged:
			return nil
		}
	}
}
