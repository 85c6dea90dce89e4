package main

import (
	"github.com/spf13/cobra"
	log "github.com/sirupsen/logrus"

	"gradcam-service/internal/adapters/secondary/onnx"
	"gradcam-service/internal/config"
	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/core/gradcam"
)

type rootOptions struct {
	modelDir   string
	ortLibrary string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gradcam",
		Short:         "Grad-CAM heatmaps for a pretrained image classifier",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.WarnLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.modelDir, "model-dir", "", "directory with backbone.onnx, metadata.json and head weights (default $MODEL_DIR)")
	cmd.PersistentFlags().StringVar(&opts.ortLibrary, "ort-lib", "", "path to the onnxruntime shared library (default $MODEL_ORT_LIBRARY)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newRenderCmd(opts), newInfoCmd(opts))
	return cmd
}

// loadConfig applies flag overrides on top of the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.modelDir != "" {
		cfg.Model.Dir = o.modelDir
	}
	if o.ortLibrary != "" {
		cfg.Model.ORTLibrary = o.ortLibrary
	}
	return cfg, nil
}

func engineOptions(cfg *config.Config) gradcam.Options {
	return gradcam.Options{
		Alpha: cfg.GradCAM.Alpha,
		Score: domain.ScoreMode(cfg.GradCAM.Score),
		TopK:  cfg.GradCAM.TopK,
	}
}

// withModel loads the model, runs fn and releases everything.
func withModel(cfg *config.Config, fn func(*gradcam.Model) error) error {
	model, err := onnx.LoadModel(cfg.Model.Dir, cfg.Model.ORTLibrary)
	if err != nil {
		return err
	}
	defer onnx.Shutdown()
	defer func() {
		if err := model.Close(); err != nil {
			log.WithError(err).Warn("close model")
		}
	}()
	return fn(model)
}
