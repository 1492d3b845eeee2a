package hugot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

const (
	DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultNERModel       = "KnightsAnalytics/distilbert-NER"
)

// PrepareModel returns the local path of a Hugging Face model, downloading it
// into modelDir on first use.
func PrepareModel(modelDir, modelName, onnxFilePath string) (string, error) {
	if strings.TrimSpace(modelName) == "" {
		return "", errors.New("model name is required")
	}
	if modelDir == "" {
		modelDir = "./models"
	}
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat model dir: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	if onnxFilePath != "" {
		opts.OnnxFilePath = onnxFilePath
	}
	downloaded, err := hugot.DownloadModel(modelName, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("download model %s: %w", modelName, err)
	}
	return downloaded, nil
}
