package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"gradcam-service/internal/adapters/secondary/onnx"
)

func newInfoCmd(root *rootOptions) *cobra.Command {
	var withClasses bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the model metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			info, err := onnx.ReadMetadata(onnx.MetadataPath(cfg.Model.Dir))
			if err != nil {
				return err
			}
			if !withClasses {
				info.Classes = nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}

	cmd.Flags().BoolVar(&withClasses, "classes", false, "include the class labels")
	return cmd
}
