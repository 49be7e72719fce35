package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/muther/internal/cliutil"
	"github.com/Paintersrp/muther/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with launch manifests",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	cmd.AddCommand(newConfigShowCmd(ctx))
	return cmd
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [manifest]",
		Short: "Validate a launch manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.manifestFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = cliutil.DefaultManifestName
			}

			if _, err := config.Load(path); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}

func newConfigShowCmd(ctx *context) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved launch manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			data, err := config.Marshal(redactManifest(doc.Manifest), config.Format(strings.ToLower(format)))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# source: %s\n", doc.Source)
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "Output format: yaml or toml")
	return cmd
}

func redactManifest(doc *config.Manifest) *config.Manifest {
	cp := *doc
	cp.Children = make([]*config.ChildSpec, 0, len(doc.Children))
	for _, child := range doc.Children {
		if child == nil {
			continue
		}
		c := *child
		c.Env = cliutil.RedactEnv(child.Env)
		cp.Children = append(cp.Children, &c)
	}
	return &cp
}
