// This file provides the NativeProvider API surface for builds without CGO.
// The real implementation in native.go depends on the whisper.cpp CGO
// bindings, which cannot compile when CGO is disabled; this stub keeps the
// package and its callers buildable and reports the limitation at runtime.

//go:build !cgo

package whisper

import (
	"context"
	"errors"

	"github.com/jabber-ai/jabber/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings (CGO).
// This build was compiled without CGO, so the provider is unavailable.
type NativeProvider struct {
	language string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g. "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. In builds without CGO it always returns an error.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	return nil, errors.New("whisper: native provider requires a build with CGO enabled")
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	return nil
}

// Transcribe implements stt.Provider.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	return stt.Result{}, errors.New("whisper: native provider requires a build with CGO enabled")
}
