package backend

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultModelID is the hub model used when no local weights are present.
const DefaultModelID = "stabilityai/sdxl-turbo"

// ModelSource tells the pipeline where to load weights from.
type ModelSource struct {
	ID        string `json:"model"`
	LocalOnly bool   `json:"local_files_only"`
}

// ResolveModelSource prefers weights extracted into modelDir and falls back to
// the hub id for local development.
func ResolveModelSource(modelDir, hubID, s3Location string, logger zerolog.Logger) ModelSource {
	hubID = strings.TrimSpace(hubID)
	if hubID == "" {
		hubID = DefaultModelID
	}
	modelDir = strings.TrimSpace(modelDir)
	if modelDir != "" {
		if _, err := os.Stat(filepath.Join(modelDir, "model_index.json")); err == nil {
			logger.Info().Str("model_dir", modelDir).Msg("backend: loading pipeline from packaged model dir")
			if s3Location != "" {
				logger.Info().Str("model_s3_location", s3Location).Msg("backend: model was staged from object storage")
			}
			return ModelSource{ID: modelDir, LocalOnly: true}
		}
		if entries, err := os.ReadDir(modelDir); err == nil && len(entries) > 0 {
			logger.Info().Str("model_dir", modelDir).Msg("backend: loading pipeline from local dir")
			return ModelSource{ID: modelDir, LocalOnly: true}
		}
	}
	logger.Info().Str("model_id", hubID).Msg("backend: no local model found, loading from hub")
	if s3Location != "" {
		logger.Warn().Str("model_s3_location", s3Location).Str("model_dir", modelDir).Msg("backend: model location set but model not found in model dir")
	}
	return ModelSource{ID: hubID}
}
