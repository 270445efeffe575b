package weights

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/23skdu/fletcher-clip/internal/device"
	"github.com/23skdu/fletcher-clip/internal/embeddings/model"
)

var (
	ErrMissingTensor    = errors.New("tensor missing from checkpoint")
	ErrShapeMismatch    = errors.New("tensor shape mismatch")
	ErrUnsupportedDType = errors.New("unsupported tensor dtype")
	ErrCorruptHeader    = errors.New("corrupt safetensors header")
)

// Loader copies checkpoint tensors into an encoder's parameters.
type Loader struct {
	Encoder *model.CLIPTextEncoder
}

// NewLoader creates a new weight loader for the given encoder.
func NewLoader(enc *model.CLIPTextEncoder) *Loader {
	return &Loader{Encoder: enc}
}

// LoadSafetensors fills every encoder parameter from the file at path.
// Tensors the encoder does not use (position_ids, projections) are ignored.
func LoadSafetensors(path string, enc *model.CLIPTextEncoder) error {
	return NewLoader(enc).LoadSafetensors(path)
}

func (l *Loader) LoadSafetensors(path string) error {
	st, err := Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	params := l.Encoder.Parameters()
	loaded := 0
	for pair := params.Oldest(); pair != nil; pair = pair.Next() {
		name, tensor := pair.Key, pair.Value

		key, ok := resolve(st, name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingTensor, name)
		}
		info := st.Tensors[key]
		if !shapeMatches(info.Shape, tensor) {
			r, c := tensor.Dims()
			return fmt.Errorf("%w: %s is %v in checkpoint, encoder expects [%d %d]", ErrShapeMismatch, name, info.Shape, r, c)
		}

		values, err := st.ReadFloat32(key)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
		tensor.CopyFromFloat32(values)
		loaded++
	}

	if extra := len(st.Tensors) - loaded; extra > 0 {
		log.Debug().Int("ignored", extra).Str("path", path).Msg("Checkpoint has tensors the encoder does not use")
	}
	log.Info().Int("tensors", loaded).Str("preset", l.Encoder.Config.Name).Str("path", path).Msg("Loaded text encoder weights")
	return nil
}

// resolve finds name in the checkpoint, also accepting files saved without
// the text_model. prefix.
func resolve(st *File, name string) (string, bool) {
	if _, ok := st.Tensors[name]; ok {
		return name, true
	}
	short := strings.TrimPrefix(name, "text_model.")
	if _, ok := st.Tensors[short]; ok {
		return short, true
	}
	return "", false
}

func shapeMatches(shape []int, t device.Tensor) bool {
	r, c := t.Dims()
	switch len(shape) {
	case 1:
		return r == 1 && shape[0] == c
	case 2:
		return shape[0] == r && shape[1] == c
	default:
		return false
	}
}

// SaveSafetensors writes every encoder parameter to path, encoded as dtype.
// Row vectors are stored 1-D like the upstream checkpoints.
func SaveSafetensors(path string, enc *model.CLIPTextEncoder, dtype device.DType) error {
	tensors := orderedmap.New[string, Entry]()
	for pair := enc.Parameters().Oldest(); pair != nil; pair = pair.Next() {
		r, c := pair.Value.Dims()
		shape := []int{r, c}
		if r == 1 {
			shape = []int{c}
		}
		tensors.Set(pair.Key, Entry{Shape: shape, Values: pair.Value.ToHost()})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	metadata := map[string]string{"format": "pt", "preset": enc.Config.Name}
	if err := Write(f, tensors, dtype, metadata); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
