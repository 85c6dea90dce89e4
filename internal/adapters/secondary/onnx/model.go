package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/core/gradcam"
)

const (
	BackboneFile = "backbone.onnx"
	MetadataFile = "metadata.json"
)

// ReadMetadata parses metadata.json and fills in the MobileNetV2 defaults for
// fields the exporter left out.
func ReadMetadata(path string) (domain.ModelInfo, error) {
	var info domain.ModelInfo

	raw, err := os.ReadFile(path)
	if err != nil {
		return info, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("parse metadata: %w", err)
	}

	if info.Layer == "" {
		info.Layer = "out_relu"
	}
	if info.InputName == "" {
		info.InputName = "input"
	}
	if info.OutputName == "" {
		info.OutputName = info.Layer
	}
	if info.ImageSize == 0 {
		info.ImageSize = 224
	}
	if info.Layout == "" {
		info.Layout = domain.LayoutNHWC
	}
	if info.Preprocessing == "" {
		info.Preprocessing = domain.PreprocessMobileNet
	}
	if len(info.InputShape) == 0 {
		s := int64(info.ImageSize)
		if info.Layout == domain.LayoutNCHW {
			info.InputShape = []int64{1, 3, s, s}
		} else {
			info.InputShape = []int64{1, s, s, 3}
		}
	}
	if info.HeadKernel == "" {
		info.HeadKernel = "head_kernel.npy"
	}
	if info.HeadBias == "" {
		info.HeadBias = "head_bias.npy"
	}

	if !info.Layout.IsValid() {
		return info, fmt.Errorf("%w: %q", domain.ErrInvalidModelLayout, info.Layout)
	}
	if !info.Preprocessing.IsValid() {
		return info, fmt.Errorf("%w: %q", domain.ErrInvalidPreprocessor, info.Preprocessing)
	}
	if len(info.ActivationShape) != 4 {
		return info, fmt.Errorf("%w: activation_shape %v must be 4-D", domain.ErrShapeMismatch, info.ActivationShape)
	}
	return info, nil
}

// MetadataPath returns the metadata file inside a model directory.
func MetadataPath(dir string) string {
	return filepath.Join(dir, MetadataFile)
}

// LoadModel initialises ONNX Runtime and loads the backbone, metadata and head
// weights from dir. libraryPath overrides the onnxruntime shared library location.
func LoadModel(dir, libraryPath string) (*gradcam.Model, error) {
	info, err := ReadMetadata(MetadataPath(dir))
	if err != nil {
		return nil, err
	}

	head, err := gradcam.LoadHead(filepath.Join(dir, info.HeadKernel), filepath.Join(dir, info.HeadBias))
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	modelPath := filepath.Join(dir, BackboneFile)
	log.WithFields(log.Fields{
		"path":    modelPath,
		"layer":   info.Layer,
		"classes": head.Classes(),
	}).Info("loading backbone")

	bb, err := NewBackbone(modelPath, &info)
	if err != nil {
		return nil, err
	}

	model, err := gradcam.NewModel(info, bb, head)
	if err != nil {
		_ = bb.Close()
		return nil, err
	}
	return model, nil
}

// Shutdown tears down the ONNX Runtime environment.
func Shutdown() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			log.WithError(err).Warn("destroy onnx environment")
		}
	}
}
