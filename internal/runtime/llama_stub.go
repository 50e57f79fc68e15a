//go:build !llama

package runtime

import "inferd/pkg/types"

// This stub is compiled when the 'llama' build tag is not set, keeping
// default builds and CI CGO-free. It refuses to initialize rather than mock
// generation.

var llamaBuilt = false

// NewBackend fails fast: no runtime engine is present in this build.
func NewBackend(src Source, caps []types.Capability, opts InitOptions) (Backend, error) {
	return nil, ErrDependencyUnavailable("runtime support not built (missing 'llama' build tag)")
}
