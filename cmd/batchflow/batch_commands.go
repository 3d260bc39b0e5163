package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"batchflow/internal/batch"
	"batchflow/internal/registry"
)

func newBatchCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCreateCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newRenameCommand(ctx),
		newLifecycleCommand(ctx, "archive", "Archive a batch", "Archived",
			func(cmd *cobra.Command, reg *registry.Registry, ref string) (*batch.Batch, error) {
				return reg.Archive(cmd.Context(), ref)
			}),
		newLifecycleCommand(ctx, "reactivate", "Reactivate an archived batch", "Reactivated",
			func(cmd *cobra.Command, reg *registry.Registry, ref string) (*batch.Batch, error) {
				return reg.Reactivate(cmd.Context(), ref)
			}),
		newLifecycleCommand(ctx, "remove", "Remove a completed or archived batch from the registry (files are kept)", "Removed",
			func(cmd *cobra.Command, reg *registry.Registry, ref string) (*batch.Batch, error) {
				return reg.Remove(cmd.Context(), ref)
			}),
	}
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <root>",
		Short: "Register a batch over a working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(reg *registry.Registry) error {
				created, err := reg.Create(cmd.Context(), name, args[0])
				if err != nil {
					return err
				}
				return ctx.respond(cmd, created, func(out io.Writer) error {
					fmt.Fprintf(out, "Created batch %s (%s) at %s with %d pending steps\n",
						created.Name, shortID(created.ID), created.RootPath, len(created.Steps))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Batch name (defaults to the directory name)")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List batches, most recently modified first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(reg *registry.Registry) error {
				batches, err := reg.List(cmd.Context(), all)
				if err != nil {
					return err
				}
				if batches == nil {
					batches = []*batch.Batch{}
				}
				return ctx.respond(cmd, batches, func(out io.Writer) error {
					renderBatchList(out, batches, shouldColorize(out))
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include archived batches")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch>",
		Short: "Show a batch and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(reg *registry.Registry) error {
				b, err := reg.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return ctx.respond(cmd, b, func(out io.Writer) error {
					renderBatchDetail(out, b, shouldColorize(out))
					return nil
				})
			})
		},
	}
}

func newRenameCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <batch> <name>",
		Short: "Change a batch's display name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(reg *registry.Registry) error {
				b, err := reg.Rename(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return ctx.respond(cmd, b, func(out io.Writer) error {
					fmt.Fprintf(out, "Renamed batch %s to %s\n", shortID(b.ID), b.Name)
					return nil
				})
			})
		},
	}
}

type lifecycleFunc func(cmd *cobra.Command, reg *registry.Registry, ref string) (*batch.Batch, error)

func newLifecycleCommand(ctx *commandContext, use, short, verb string, fn lifecycleFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <batch>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistry(func(reg *registry.Registry) error {
				b, err := fn(cmd, reg, args[0])
				if err != nil {
					return err
				}
				return ctx.respond(cmd, b, func(out io.Writer) error {
					fmt.Fprintf(out, "%s batch %s (%s); status %s\n", verb, b.Name, shortID(b.ID), b.Status)
					return nil
				})
			})
		},
	}
}
