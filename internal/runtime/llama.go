//go:build llama

package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"inferd/pkg/types"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaBackend owns one loaded gguf model.
type llamaBackend struct {
	model   *llama.LLama
	threads int
	base    InitOptions
	tmpPath string
}

// NewBackend loads the asset into an in-process llama.cpp context. Only the
// text capability is served by this build; multimodal entries need an engine
// this binary does not carry.
func NewBackend(src Source, caps []types.Capability, opts InitOptions) (Backend, error) {
	if len(caps) > 1 {
		return nil, ErrDependencyUnavailable("multimodal runtime not built (text-only llama backend)")
	}
	path, tmp, err := materialize(src)
	if err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{}
	if opts.CtxSize > 0 {
		mo = append(mo, llama.SetContext(opts.CtxSize))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		if tmp != "" {
			_ = os.Remove(tmp)
		}
		return nil, err
	}
	return &llamaBackend{model: m, threads: opts.Threads, base: opts, tmpPath: tmp}, nil
}

// materialize resolves a loadable file path for the source, writing the
// in-memory buffer to disk when that is all we have.
func materialize(src Source) (path, tmp string, err error) {
	if strings.TrimSpace(src.Path) != "" {
		return src.Path, "", nil
	}
	if src.Data == nil {
		return "", "", errors.New("no loadable source: buffer was not retained and no path is known")
	}
	f, err := os.CreateTemp("", "inferd-"+filepath.Base(src.EntryID)+"-*.gguf")
	if err != nil {
		return "", "", err
	}
	if _, err := f.Write(src.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", "", err
	}
	return f.Name(), f.Name(), nil
}

func (b *llamaBackend) Generate(ctx context.Context, parts []types.Part, params GenerateParams, fn Callback) (string, error) {
	if b.model == nil {
		return "", errors.New("llama model not initialized")
	}
	prompt, err := FlattenText(parts)
	if err != nil {
		return "", err
	}
	// Bridge llama's per-token callback to the cumulative-partial protocol.
	var acc strings.Builder
	if fn != nil {
		b.model.SetTokenCallback(func(tok string) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			acc.WriteString(tok)
			if err := fn(acc.String(), false); err != nil {
				return false
			}
			return true
		})
		defer b.model.SetTokenCallback(nil)
	}
	text, err := b.model.Predict(prompt, b.predictOptions(params)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if text == "" {
		text = acc.String()
	}
	if fn != nil {
		if err := fn(text, true); err != nil {
			return text, err
		}
	}
	return text, nil
}

func (b *llamaBackend) Close() error {
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	if b.tmpPath != "" {
		_ = os.Remove(b.tmpPath)
		b.tmpPath = ""
	}
	return nil
}

func (b *llamaBackend) predictOptions(params GenerateParams) []llama.PredictOption {
	maxTok := params.MaxTokens
	if maxTok <= 0 {
		maxTok = b.base.MaxTokens
	}
	if maxTok <= 0 {
		maxTok = 1
	}
	threads := b.threads
	if threads <= 0 {
		threads = 1
	}
	po := []llama.PredictOption{
		llama.SetTokens(maxTok),
		llama.SetThreads(threads),
	}
	if params.Temperature > 0 {
		po = append(po, llama.SetTemperature(float32(params.Temperature)))
	}
	if params.TopP > 0 {
		po = append(po, llama.SetTopP(float32(params.TopP)))
	}
	if params.TopK > 0 {
		po = append(po, llama.SetTopK(params.TopK))
	}
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(int(params.Seed)))
	}
	return po
}
