package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuload/internal/output"
	"github.com/wesleyorama2/vuload/perf"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <test-file>...",
		Short: "Check test files without running them",
		Long: `Parse and validate test files: structure, durations, thresholds,
check and extract definitions, and JSON schemas.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme := output.DefaultColorScheme()
			if g.noColor || !output.SupportsColor(g.stdout) {
				scheme = output.NoColorScheme()
			}

			invalid := 0
			for _, path := range args {
				summary, err := validateFile(path)
				if err != nil {
					invalid++
					fmt.Fprintf(g.stdout, "%s %s\n", scheme.FailIcon(), scheme.Label.Sprint(path))
					fmt.Fprintf(g.stdout, "    %s\n", err)
					continue
				}
				fmt.Fprintf(g.stdout, "%s %s %s\n", scheme.PassIcon(), scheme.Label.Sprint(path), scheme.Dim.Sprint(summary))
			}

			if invalid > 0 {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
}

// validateFile runs every check that run performs before starting the
// engine and returns a one-line summary of the test.
func validateFile(path string) (string, error) {
	test, err := perf.LoadFile(path)
	if err != nil {
		return "", err
	}
	p := test.Profile()
	return fmt.Sprintf("(%s: %d stages, max %d VUs, %d requests per iteration, %d thresholds)",
		test.Name(), len(p.Stages), p.Max(), test.Requests(), test.Thresholds()), nil
}
