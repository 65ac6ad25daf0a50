package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ruivieira/cheshire/pkg/engine"
	"github.com/ruivieira/cheshire/pkg/facts"
)

type platformInfo struct {
	Platform    engine.Platform   `json:"platform"`
	DisplayName string            `json:"display_name"`
	Family      []engine.Platform `json:"family,omitempty"`
}

func newPlatformCommand(global *globalOptions) *cobra.Command {
	var (
		target targetOptions
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Show the detected platform",
		Long: `Show the platform operations are matched against. With --list, print every
known platform and the concrete platforms it covers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if list {
				infos := make([]platformInfo, 0, len(engine.Platforms()))
				for _, p := range engine.Platforms() {
					infos = append(infos, platformInfo{Platform: p, DisplayName: p.DisplayName(), Family: engine.Family(p)})
				}
				if global.jsonOutput {
					return writeJSON(out, infos)
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "PLATFORM\tNAME\tRUNS ON")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%s\t%v\n", info.Platform, info.DisplayName, info.Family)
				}
				return w.Flush()
			}

			runner, err := target.newRunner(cmd.Context(), nil, log.Logger)
			if err != nil {
				return err
			}
			defer runner.Close()

			p, err := resolvePlatform(cmd.Context(), "", target.ssh != "", runner)
			if err != nil {
				return err
			}
			if global.jsonOutput {
				return writeJSON(out, platformInfo{Platform: p, DisplayName: p.DisplayName()})
			}
			fmt.Fprintf(out, "%s (%s)\n", p, p.DisplayName())
			return nil
		},
	}

	target.addFlags(cmd)
	cmd.Flags().BoolVar(&list, "list", false, "list every known platform")
	return cmd
}

func newFactsCommand(global *globalOptions) *cobra.Command {
	var target targetOptions

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Collect host facts",
		Long:  `Collect the platform, os-release, kernel, architecture and hostname of the target.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := target.newRunner(cmd.Context(), nil, log.Logger)
			if err != nil {
				return err
			}
			defer runner.Close()

			f, err := facts.Collect(cmd.Context(), runner)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if global.jsonOutput {
				return writeJSON(out, f)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Platform:\t%s (%s)\n", f.Platform, f.Platform.DisplayName())
			if f.Release.PrettyName != "" {
				fmt.Fprintf(w, "Release:\t%s\n", f.Release.PrettyName)
			}
			if f.Kernel != "" {
				fmt.Fprintf(w, "Kernel:\t%s\n", f.Kernel)
			}
			if f.Arch != "" {
				fmt.Fprintf(w, "Arch:\t%s\n", f.Arch)
			}
			if f.Hostname != "" {
				fmt.Fprintf(w, "Hostname:\t%s\n", f.Hostname)
			}
			return w.Flush()
		},
	}

	target.addFlags(cmd)
	return cmd
}
