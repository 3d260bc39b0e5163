package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"batchflow/internal/batchconfig"
	"batchflow/internal/config"
	"batchflow/internal/registry"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Application and per-batch configuration",
	}

	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))
	configCmd.AddCommand(newConfigUnsetCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand(ctx))

	return configCmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch>",
		Short: "Show a batch's effective configuration and where each value comes from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := ctx.configManager()
			if err != nil {
				return err
			}
			return ctx.withRegistry(func(reg *registry.Registry) error {
				b, err := reg.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cfg, err := configs.Load(b)
				if err != nil {
					return err
				}
				entries := cfg.Flatten()
				data := map[string]any{
					"batch_id": b.ID,
					"path":     configs.Path(b),
					"entries":  entries,
					"problems": cfg.Problems(),
				}
				return ctx.respond(cmd, data, func(out io.Writer) error {
					renderConfig(out, configs.Path(b), entries, cfg.Problems())
					return nil
				})
			})
		},
	}
}

func renderConfig(out io.Writer, path string, entries []batchconfig.Entry, problems []string) {
	fmt.Fprintf(out, "Overrides file: %s\n", path)
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{entry.Key, fmt.Sprint(entry.Value), string(entry.Source)})
	}
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderTable([]column{
		{title: "Key"},
		{title: "Value", wide: true},
		{title: "Source"},
	}, rows, colorize))
	for _, problem := range problems {
		fmt.Fprintln(out, renderStatusLine("config", statusWarn, problem, colorize))
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <batch> <key> <value>",
		Short: "Override a batch parameter (value is parsed as TOML, else kept as a string)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := ctx.configManager()
			if err != nil {
				return err
			}
			return ctx.withRegistry(func(reg *registry.Registry) error {
				b, err := reg.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := configs.Set(b, args[1], args[2]); err != nil {
					return err
				}
				value := batchconfig.ParseValue(args[2])
				data := map[string]any{"batch_id": b.ID, "key": args[1], "value": value}
				return ctx.respond(cmd, data, func(out io.Writer) error {
					fmt.Fprintf(out, "Set %s = %v for batch %s\n", args[1], value, shortID(b.ID))
					return nil
				})
			})
		},
	}
}

func newConfigUnsetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unset <batch> <key>",
		Short: "Remove a batch override so the default applies again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := ctx.configManager()
			if err != nil {
				return err
			}
			return ctx.withRegistry(func(reg *registry.Registry) error {
				b, err := reg.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				removed, err := configs.Unset(b, args[1])
				if err != nil {
					return err
				}
				data := map[string]any{"batch_id": b.ID, "key": args[1], "removed": removed}
				return ctx.respond(cmd, data, func(out io.Writer) error {
					if removed {
						fmt.Fprintf(out, "Removed override %s\n", args[1])
					} else {
						fmt.Fprintf(out, "No override for %s\n", args[1])
					}
					return nil
				})
			})
		},
	}
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample application configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			return ctx.respond(cmd, map[string]string{"path": target}, func(out io.Writer) error {
				fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}
