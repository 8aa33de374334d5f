// Package classifier runs a pre-trained ONNX binary classifier for the
// classifier strategy.
package classifier

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// FeatureCount is the length of the model input vector.
const FeatureCount = 8

var (
	ErrClosed       = errors.New("classifier: closed")
	ErrFeatureCount = errors.New("classifier: wrong feature count")
)

// Config locates the model and runtime.
type Config struct {
	ModelPath   string // .onnx file
	LibraryPath string // onnxruntime shared library; platform default when empty
	InputName   string // default "input"
	OutputName  string // default "probabilities"
	// Outputs is the width of the output tensor: 2 for [P(down), P(up)],
	// 1 for a single P(up). Default 2.
	Outputs int
}

func (c *Config) defaults() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "probabilities"
	}
	if c.Outputs == 0 {
		c.Outputs = 2
	}
	if c.LibraryPath == "" {
		c.LibraryPath = defaultLibraryPath()
	}
}

// Validate checks the configuration without touching the runtime.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("classifier: model path required")
	}
	if _, err := os.Stat(c.ModelPath); err != nil {
		return fmt.Errorf("classifier: model: %w", err)
	}
	if c.Outputs != 0 && c.Outputs != 1 && c.Outputs != 2 {
		return fmt.Errorf("classifier: outputs must be 1 or 2, got %d", c.Outputs)
	}
	return nil
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

var (
	envOnce sync.Once
	envErr  error
)

func initRuntime(libPath string) error {
	envOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// ONNX implements model.Classifier over an onnxruntime session. The input
// and output tensors are reused, so predictions are serialized.
type ONNX struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// Load initializes the runtime once per process and opens the model.
func Load(cfg Config) (*ONNX, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("classifier: init onnxruntime: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, FeatureCount), make([]float32, FeatureCount))
	if err != nil {
		return nil, fmt.Errorf("classifier: input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Outputs)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("classifier: output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("classifier: session: %w", err)
	}
	return &ONNX{session: session, input: input, output: output}, nil
}

// PredictProba returns P(up) for one feature vector.
func (m *ONNX) PredictProba(features []float32) (float64, error) {
	if len(features) != FeatureCount {
		return 0, fmt.Errorf("%w: %d, want %d", ErrFeatureCount, len(features), FeatureCount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0, ErrClosed
	}
	copy(m.input.GetData(), features)
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("classifier: inference: %w", err)
	}
	return upProbability(m.output.GetData())
}

// upProbability reads P(up) from a one- or two-wide output.
func upProbability(out []float32) (float64, error) {
	var p float32
	switch len(out) {
	case 1:
		p = out[0]
	case 2:
		p = out[1]
	default:
		return 0, fmt.Errorf("classifier: unexpected output width %d", len(out))
	}
	if p != p || p < 0 || p > 1 {
		return 0, fmt.Errorf("classifier: probability %v out of range", p)
	}
	return float64(p), nil
}

// Close releases the session and tensors.
func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	m.session = nil
	return err
}
