package main

import (
	"fmt"
	"image"
	"os"

	"github.com/spf13/cobra"

	"gradcam-service/internal/core/gradcam"
)

type renderOptions struct {
	in      string
	out     string
	heatmap string
	class   int
	alpha   float64

	maxPixels int64
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the Grad-CAM overlay of an image as PNG",
		Example: `  gradcam render --in photo.jpg --out overlay.png
  gradcam render --in photo.jpg --out overlay.png --class 208`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("alpha") {
				cfg.GradCAM.Alpha = opts.alpha
			}
			opts.maxPixels = cfg.Server.MaxImagePixels

			var target *int
			if cmd.Flags().Changed("class") {
				target = &opts.class
			}

			return withModel(cfg, func(model *gradcam.Model) error {
				return render(cmd, gradcam.NewEngine(model, engineOptions(cfg)), opts, target)
			})
		},
	}

	cmd.Flags().StringVar(&opts.in, "in", "", "input image (jpeg, png, gif, bmp, tiff or webp)")
	cmd.Flags().StringVar(&opts.out, "out", "overlay.png", "output PNG path")
	cmd.Flags().StringVar(&opts.heatmap, "heatmap", "", "also write the colourised heatmap at its own resolution")
	cmd.Flags().IntVar(&opts.class, "class", 0, "class index to explain (default: top prediction)")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", gradcam.DefaultAlpha, "heatmap weight in the overlay")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func render(cmd *cobra.Command, engine *gradcam.Engine, opts *renderOptions, target *int) error {
	f, err := os.Open(opts.in)
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := gradcam.DecodeImage(f, opts.maxPixels)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.in, err)
	}

	res, err := engine.Compute(cmd.Context(), img, target)
	if err != nil {
		return err
	}

	if err := writePNG(opts.out, res.Overlay); err != nil {
		return err
	}
	if opts.heatmap != "" {
		if err := writePNG(opts.heatmap, gradcam.Stretch(gradcam.Colorize(res.Heatmap))); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: class %d %q score %.4f (%dms)\n",
		opts.out, res.Target.Index, res.Target.Label, res.Target.Score, res.Duration.Milliseconds())
	if res.Flat {
		fmt.Fprintln(w, "warning: no positive evidence for this class, heatmap is empty")
	}
	for i, p := range res.Top {
		fmt.Fprintf(w, "  %d. %-4d %-30s %.4f\n", i+1, p.Index, p.Label, p.Score)
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	data, err := gradcam.EncodePNG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
