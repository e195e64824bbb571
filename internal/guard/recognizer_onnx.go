//go:build onnx
// +build onnx

package guard

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/logger"
)

// onnxRecognizer implements EntityRecognizer using a token-classification
// model run through ONNX Runtime (via yalue/onnxruntime_go). Labels are
// expected in BIO form (O, B-EMAIL_ADDRESS, I-EMAIL_ADDRESS, ...).
type onnxRecognizer struct {
	session *ort.DynamicAdvancedSession
	vocab   map[string]int64
	labels  []string
	unkID   int64
	logger  *logger.Logger
	ready   bool
	mu      sync.Mutex
}

// NewNERRecognizer initializes the ONNX Runtime recognizer. Requires build
// tag 'onnx'. labelPath points to a vocab directory containing vocab.txt and
// labels.txt.
func NewNERRecognizer(log *logger.Logger, modelPath string, labelPath string) EntityRecognizer {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		log.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	vocab, err := loadVocab(labelPath + "/vocab.txt")
	if err != nil {
		log.Error("Failed to load recognizer vocab", zap.Error(err))
		return nil
	}
	labels, err := loadLines(labelPath + "/labels.txt")
	if err != nil {
		log.Error("Failed to load recognizer labels", zap.Error(err))
		return nil
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask"}, []string{"logits"}, nil)
	if err != nil {
		log.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	unkID := int64(0)
	if id, ok := vocab["[UNK]"]; ok {
		unkID = id
	}

	log.Info("NER recognizer ready",
		zap.String("model", modelPath),
		zap.Int("vocab_size", len(vocab)),
		zap.Int("labels", len(labels)),
	)

	return &onnxRecognizer{session: sess, vocab: vocab, labels: labels, unkID: unkID, logger: log, ready: true}
}

func (r *onnxRecognizer) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready && r.session != nil
}

func (r *onnxRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
	ort.DestroyEnvironment()
	r.ready = false
	return nil
}

// Recognize tokenizes the text, runs one inference, and decodes BIO labels
// back to byte spans.
func (r *onnxRecognizer) Recognize(text string) ([]Entity, error) {
	if !r.IsReady() {
		return nil, fmt.Errorf("onnx recognizer not ready")
	}

	tokens, spans := tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(tokens))
	mask := make([]int64, len(tokens))
	for i, tok := range tokens {
		if id, ok := r.vocab[strings.ToLower(tok)]; ok {
			ids[i] = id
		} else {
			ids[i] = r.unkID
		}
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(len(tokens)))
	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputIDs.Destroy()
	attention, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention tensor: %w", err)
	}
	defer attention.Destroy()

	outputs := []ort.ArbitraryTensor{nil}
	r.mu.Lock()
	err = r.session.Run([]ort.ArbitraryTensor{inputIDs, attention}, outputs)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	logitsTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	defer logitsTensor.Destroy()

	logits := logitsTensor.GetData()
	numLabels := len(r.labels)
	if len(logits) < len(tokens)*numLabels {
		return nil, fmt.Errorf("logits shape mismatch: %d values for %d tokens", len(logits), len(tokens))
	}

	return r.decode(tokens, spans, logits, numLabels), nil
}

// decode groups consecutive B-/I- labels of the same type into entities.
func (r *onnxRecognizer) decode(tokens []string, spans [][2]int, logits []float32, numLabels int) []Entity {
	var entities []Entity
	var current *Entity

	for i := range tokens {
		best, bestScore := 0, float32(-1e9)
		for j := 0; j < numLabels; j++ {
			if score := logits[i*numLabels+j]; score > bestScore {
				best, bestScore = j, score
			}
		}

		label := r.labels[best]
		switch {
		case strings.HasPrefix(label, "B-"):
			if current != nil {
				entities = append(entities, *current)
			}
			current = &Entity{Type: label[2:], Start: spans[i][0], End: spans[i][1]}
		case strings.HasPrefix(label, "I-") && current != nil && label[2:] == current.Type:
			current.End = spans[i][1]
		default:
			if current != nil {
				entities = append(entities, *current)
				current = nil
			}
		}
	}
	if current != nil {
		entities = append(entities, *current)
	}
	return entities
}

// tokenize splits text into whitespace/punctuation-delimited tokens and
// records each token's byte span.
func tokenize(text string) ([]string, [][2]int) {
	var tokens []string
	var spans [][2]int

	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if start >= 0 {
				tokens = append(tokens, text[start:i])
				spans = append(spans, [2]int{start, i})
				start = -1
			}
			if unicode.IsPunct(r) {
				tokens = append(tokens, string(r))
				spans = append(spans, [2]int{i, i + len(string(r))})
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, text[start:])
		spans = append(spans, [2]int{start, len(text)})
	}
	return tokens, spans
}

func loadVocab(path string) (map[string]int64, error) {
	lines, err := loadLines(path)
	if err != nil {
		return nil, err
	}
	vocab := make(map[string]int64, len(lines))
	for i, line := range lines {
		vocab[line] = int64(i)
	}
	return vocab, nil
}

func loadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	return lines, scanner.Err()
}
