package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newSchema(flags *rootFlags) *cobra.Command {
	var batch bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema events are validated against",
		Long: `Print the JSON schema generated from the current configuration
(SCHEMA_STRICT, EVENT_TYPES, BATCH_MAX_EVENTS).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSchema(flags)
			if err != nil {
				return err
			}
			doc := s.Document()
			if batch {
				doc = s.BatchDocument()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "print the batch envelope schema")
	return cmd
}
