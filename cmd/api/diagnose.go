package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agrobuddy/backend/internal/app"
)

// diagnoseCommand runs one image through the same upload checks and
// diagnosis pipeline as POST /api/disease/detect.
func diagnoseCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <image>",
		Short: "Diagnose a leaf photo and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			a, err := app.New(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			staged, err := a.Uploads.SaveBytes(filepath.Base(args[0]), http.DetectContentType(data), data)
			if err != nil {
				return err
			}
			defer a.Uploads.Release(staged)

			img, err := staged.Image()
			if err != nil {
				return err
			}

			result, err := a.Diagnosis.Assemble(ctx, img)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
