package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"frametest/internal/spec"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var profileMode bool

	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate spec or profile documents without running them",
		Long: `Parse and validate test spec documents (or input profiles with
--profiles) and report every invalid file. Nothing is executed.

Example:
  frametest validate specs/*.yaml
  frametest validate --profiles profiles/default.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bad := 0
			for _, path := range args {
				var err error
				if profileMode {
					_, err = spec.LoadProfile(path)
				} else {
					_, err = spec.Load(path)
				}
				if err != nil {
					bad++
					fmt.Fprintf(cmd.OutOrStdout(), "INVALID %s\n        %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK      %s\n", path)
			}
			if bad > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d documents invalid", bad, len(args)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&profileMode, "profiles", false, "validate input profiles instead of test specs")
	return cmd
}
