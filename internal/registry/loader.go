package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// GGUFScanner discovers *.gguf model files in a directory and derives
// metadata from their filenames.
type GGUFScanner struct{}

func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan walks dir (after ~ expansion) and returns one Model per .gguf file.
// ID is the full filename including extension; metadata the filename does
// not encode is left empty.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{
			ID:     name,
			Name:   name,
			Path:   filepath.Join(abs, name),
			Quant:  detectQuant(name),
			Family: DetectFamily(name),
		})
	}
	return models, nil
}

// LoadDir is a convenience wrapper around the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// DetectFamily guesses the model family from a filename. The family picks
// the chat template used to flatten multi-turn conversations; unknown
// names get the generic template.
func DetectFamily(name string) string {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "qwen"):
		return "qwen"
	case strings.Contains(n, "gemma"):
		return "gemma"
	case strings.Contains(n, "mistral"):
		return "mistral"
	case strings.Contains(n, "phi"):
		return "phi"
	case strings.Contains(n, "llama"):
		return "llama"
	default:
		return ""
	}
}

// detectQuant extracts a quantization tag like "Q4_K_M" from a filename.
// Tags sit at the end, dot- or dash-delimited: "llama-3.1-8b-q4_k_m.gguf".
func detectQuant(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	for _, sep := range []string{"-", "."} {
		idx := strings.LastIndex(base, sep)
		if idx < 0 || idx+1 >= len(base) {
			continue
		}
		if tail := base[idx+1:]; isQuantTag(tail) {
			return strings.ToUpper(tail)
		}
	}
	return ""
}

func isQuantTag(s string) bool {
	u := strings.ToUpper(s)
	if len(u) < 2 || (u[0] != 'Q' && u[0] != 'F' && u[0] != 'I') {
		return false
	}
	return u[1] >= '0' && u[1] <= '9'
}
