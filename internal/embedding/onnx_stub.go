//go:build !cgo
// +build !cgo

package embedding

import (
	"errors"
)

// ONNXEmbedder is unavailable without CGO.
type ONNXEmbedder struct{ Embedder }

// NewONNXEmbedder returns an error when built without CGO.
func NewONNXEmbedder(_ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errors.New("onnx provider requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}
