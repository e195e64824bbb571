//go:build !onnx
// +build !onnx

package guard

import (
	"github.com/slkreddy/SafeLayer/internal/logger"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewNERRecognizer(log *logger.Logger, modelPath string, labelPath string) EntityRecognizer {
	return nil
}
