package nlp

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
	ort "github.com/yalue/onnxruntime_go"
)

// PipelineSpec describes a transformer pipeline: the task it performs and
// the model assets backing it. Model names follow the upstream hub notation;
// the loader maps them onto a local directory containing model.onnx,
// tokenizer.json and config.json.
type PipelineSpec struct {
	Task                string `json:"task"`
	Model               string `json:"model"`
	Revision            string `json:"revision,omitempty"`
	AggregationStrategy string `json:"aggregation_strategy,omitempty"`
}

// Validate checks the descriptor structurally.
func (s PipelineSpec) Validate() error {
	switch s.Task {
	case "token-classification", "text-classification":
	case "":
		return fmt.Errorf("pipeline descriptor: task missing")
	default:
		return fmt.Errorf("pipeline descriptor: unsupported task %q", s.Task)
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("pipeline descriptor: model missing")
	}
	return nil
}

// ClassScore is one label of a text-classification result.
type ClassScore struct {
	Label string
	Score float64
}

// Pipeline runs a transformer model through onnxruntime with a HuggingFace
// tokenizer. One Pipeline serves one feature (NER or language detection).
type Pipeline struct {
	spec      PipelineSpec
	modelPath string
	tok       *tokenizers.Tokenizer
	labels    map[int]string
	maxSeq    int
}

var ortInit sync.Once

// padTokenID is the padding token for XLM-RoBERTa vocabularies.
const padTokenID = 1

const defaultMaxSeq = 256

// newPipeline loads the model assets for spec from a directory below
// modelsDir named after the model (slashes flattened).
func newPipeline(modelsDir string, spec PipelineSpec) (*Pipeline, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	dir := filepath.Join(modelsDir, strings.ReplaceAll(spec.Model, "/", "_"))
	modelPath := filepath.Join(dir, "model.onnx")
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", initErr)
	}

	tok, err := tokenizers.FromFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	configData, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var modelConfig struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(configData, &modelConfig); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	labels := make(map[int]string, len(modelConfig.ID2Label))
	for idStr, label := range modelConfig.ID2Label {
		var id int
		fmt.Sscanf(idStr, "%d", &id)
		labels[id] = label
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("model config has no id2label mapping")
	}

	return &Pipeline{
		spec:      spec,
		modelPath: modelPath,
		tok:       tok,
		labels:    labels,
		maxSeq:    defaultMaxSeq,
	}, nil
}

// Spec returns the descriptor the pipeline was built from.
func (p *Pipeline) Spec() PipelineSpec { return p.spec }

// encoded is the padded tokenizer output for one inference call.
type encoded struct {
	ids     []int64
	mask    []int64
	offsets [][2]int
}

func (p *Pipeline) encode(text string) encoded {
	enc := p.tok.EncodeWithOptions(text, true, tokenizers.WithReturnOffsets())

	ids := enc.IDs
	mask := enc.AttentionMask
	offsets := enc.Offsets
	if len(ids) > p.maxSeq {
		ids = ids[:p.maxSeq]
		mask = mask[:p.maxSeq]
		offsets = offsets[:p.maxSeq]
	}

	out := encoded{
		ids:     make([]int64, p.maxSeq),
		mask:    make([]int64, p.maxSeq),
		offsets: make([][2]int, p.maxSeq),
	}
	for i := 0; i < p.maxSeq; i++ {
		if i < len(ids) {
			out.ids[i] = int64(ids[i])
			out.mask[i] = int64(mask[i])
			out.offsets[i] = [2]int{int(offsets[i][0]), int(offsets[i][1])}
		} else {
			out.ids[i] = padTokenID
		}
	}
	return out
}

// run performs one inference and returns the raw logits, laid out row-major
// over outShape.
func (p *Pipeline) run(in encoded, outShape ort.Shape) ([]float32, error) {
	inputIDs, err := ort.NewTensor(ort.NewShape(1, int64(p.maxSeq)), in.ids)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attentionMask, err := ort.NewTensor(ort.NewShape(1, int64(p.maxSeq)), in.mask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer attentionMask.Destroy()

	total := int64(1)
	for _, d := range outShape {
		total *= d
	}
	outData := make([]float32, total)
	output, err := ort.NewTensor(outShape, outData)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer output.Destroy()

	// AdvancedSession binds inputs and outputs at construction time, so a
	// fresh session is created per call.
	session, err := ort.NewAdvancedSession(
		p.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		[]ort.Value{inputIDs, attentionMask},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return outData, nil
}

func softmax(logits []float32) []float64 {
	maxVal := logits[0]
	for _, v := range logits {
		if v > maxVal {
			maxVal = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v - maxVal))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Classify runs a text-classification pipeline and returns up to topK labels
// sorted descending by probability.
func (p *Pipeline) Classify(text string, topK int) ([]ClassScore, error) {
	if p.spec.Task != "text-classification" {
		return nil, fmt.Errorf("pipeline task is %q, not text-classification", p.spec.Task)
	}
	in := p.encode(text)
	numLabels := len(p.labels)
	logits, err := p.run(in, ort.NewShape(1, int64(numLabels)))
	if err != nil {
		return nil, err
	}

	probs := softmax(logits)
	scores := make([]ClassScore, 0, numLabels)
	for i, prob := range probs {
		scores = append(scores, ClassScore{Label: p.labels[i], Score: prob})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}
	return scores, nil
}

// RecognizeEntities runs a token-classification pipeline over text and
// aggregates BIO-tagged wordpieces into entity spans ("simple" aggregation:
// contiguous pieces of the same category merge, confidence is averaged).
// Offsets are relative to text; returned spans do not overlap and are sorted
// ascending by start.
func (p *Pipeline) RecognizeEntities(text string, threshold float64) ([]Entity, error) {
	if p.spec.Task != "token-classification" {
		return nil, fmt.Errorf("pipeline task is %q, not token-classification", p.spec.Task)
	}
	in := p.encode(text)
	numLabels := len(p.labels)
	logits, err := p.run(in, ort.NewShape(1, int64(p.maxSeq), int64(numLabels)))
	if err != nil {
		return nil, err
	}

	var entities []Entity
	var current *Entity
	pieces := 0

	flush := func() {
		if current != nil {
			entities = append(entities, *current)
			current = nil
		}
	}

	for i := 0; i < p.maxSeq; i++ {
		// Special tokens bracket the sequence; padding carries no mask.
		if i == 0 || in.mask[i] == 0 {
			if i > 0 {
				break
			}
			continue
		}
		probs := softmax(logits[i*numLabels : (i+1)*numLabels])
		best := 0
		for j, prob := range probs {
			if prob > probs[best] {
				best = j
			}
		}
		label := p.labels[best]
		score := probs[best]

		if label == "O" || score < threshold {
			flush()
			continue
		}
		position, entType, ok := strings.Cut(label, "-")
		if !ok {
			flush()
			continue
		}
		cat := normalizeCategory(entType)
		start, end := in.offsets[i][0], in.offsets[i][1]
		if start >= end {
			continue // zero-width subword
		}

		if position == "B" || current == nil || current.Label != cat {
			flush()
			current = &Entity{
				Word:  text[start:end],
				Start: start,
				End:   end,
				Label: cat,
				Score: score,
			}
			pieces = 1
			continue
		}
		// Continuation: extend the open span.
		current.End = end
		current.Word = text[current.Start:end]
		current.Score = (current.Score*float64(pieces) + score) / float64(pieces+1)
		pieces++
	}
	flush()
	return entities, nil
}
