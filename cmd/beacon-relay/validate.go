package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbogacz/beacon-relay-gateway/internal/errors"
	"github.com/jbogacz/beacon-relay-gateway/internal/validate"
)

func newValidate(flags *rootFlags) *cobra.Command {
	var batch bool
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate an event file offline",
		Long: `Validate a JSON event (or batch, with --batch) without publishing it.
Use - to read from standard input. Every violated constraint is listed.`,
		Example: `  beacon-relay validate event.json
  cat batch.json | beacon-relay validate --batch -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSchema(flags)
			if err != nil {
				return err
			}
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			v := validate.New(s)
			if batch {
				_, err = v.ValidateBatch(raw)
			} else {
				_, err = v.Validate(raw)
			}
			out := cmd.OutOrStdout()
			if err == nil {
				fmt.Fprintln(out, "valid")
				return nil
			}

			ge := errors.As(err)
			fmt.Fprintln(out, ge.Summary())
			for _, is := range ge.Issues {
				fmt.Fprintf(out, "  %s: %s (%s)\n", displayPath(is.Path), is.Message, is.Keyword)
			}
			if len(ge.Issues) == 0 {
				fmt.Fprintf(out, "  %v\n", ge.Err)
			}
			return fmt.Errorf("%s: %s", args[0], ge.Kind)
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "validate a batch envelope")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
