package guard

// Entity is one span found by an external entity recognizer.
type Entity struct {
	Type  string
	Start int
	End   int
}

// EntityRecognizer is a pluggable detection backend for the PII guard.
// Implementations may wrap an ML model or an external service; the built-in
// alternative is the guard's own pattern rules.
type EntityRecognizer interface {
	// Recognize returns all entities found in text with byte offsets.
	Recognize(text string) ([]Entity, error)
	// IsReady returns whether the recognizer is initialized and usable.
	IsReady() bool
	// Close releases any native resources.
	Close() error
}

// NewNERRecognizer creates a model-backed recognizer if supported by the
// current build. The default (no build tags) returns nil so that the PII
// guard falls back to pattern rules without a CGO dependency.
// Implementations are provided in build-tagged files, e.g. recognizer_onnx.go
// and recognizer_stub.go.
