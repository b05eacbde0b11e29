//go:build !rknn

package rknn

import "github.com/swdee/go-rtvideo"

// NewFactory returns an engine factory that always fails as the package was
// built without RKNN support
func NewFactory(opts Options) rtvideo.EngineFactory {
	return func(int) (rtvideo.Engine, error) {
		return nil, ErrNotSupported
	}
}
