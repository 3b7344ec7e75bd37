package xcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/storage/xcache"
)

func TestFingerprint_Normalization(t *testing.T) {
	base := xcache.FingerprintInput{
		Prompt: "What is  Go?",
		Model:  "gpt-4o",
		Params: map[string]any{"temperature": 0.2, "max_tokens": 100},
	}
	want, err := xcache.Fingerprint(base)
	require.NoError(t, err)
	assert.Len(t, want, 64)

	tests := []struct {
		name string
		in   xcache.FingerprintInput
		same bool
	}{
		{"case and whitespace", xcache.FingerprintInput{Prompt: "  what IS go? ", Model: "GPT-4o", Params: base.Params}, true},
		{"param order", xcache.FingerprintInput{Prompt: base.Prompt, Model: base.Model, Params: map[string]any{"max_tokens": 100, "temperature": 0.2}}, true},
		{"different param", xcache.FingerprintInput{Prompt: base.Prompt, Model: base.Model, Params: map[string]any{"temperature": 0.3, "max_tokens": 100}}, false},
		{"different model", xcache.FingerprintInput{Prompt: base.Prompt, Model: "other", Params: base.Params}, false},
		{"different prompt", xcache.FingerprintInput{Prompt: "What is Rust?", Model: base.Model, Params: base.Params}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := xcache.Fingerprint(tt.in)
			require.NoError(t, err)
			if tt.same {
				assert.Equal(t, want, got)
			} else {
				assert.NotEqual(t, want, got)
			}
		})
	}
}

func TestFingerprint_NilAndEmptyParamsMatch(t *testing.T) {
	a, err := xcache.Fingerprint(xcache.FingerprintInput{Prompt: "p", Model: "m"})
	require.NoError(t, err)
	b, err := xcache.Fingerprint(xcache.FingerprintInput{Prompt: "p", Model: "m", Params: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprint_UnencodableParams(t *testing.T) {
	_, err := xcache.Fingerprint(xcache.FingerprintInput{Prompt: "p", Params: map[string]any{"f": func() {}}})
	assert.Error(t, err)
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	tests := []struct {
		name string
		a, b xcache.FingerprintInput
	}{
		{
			"nul moved from model to prompt",
			xcache.FingerprintInput{Model: "gpt\x00hello", Prompt: "world"},
			xcache.FingerprintInput{Model: "gpt", Prompt: "hello\x00world"},
		},
		{
			"prompt absorbs model suffix",
			xcache.FingerprintInput{Model: "gpt-4", Prompt: "o hi"},
			xcache.FingerprintInput{Model: "gpt-4o", Prompt: "hi"},
		},
		{
			"prompt looks like params",
			xcache.FingerprintInput{Model: "m", Prompt: "{}"},
			xcache.FingerprintInput{Model: "m", Prompt: ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := xcache.Fingerprint(tt.a)
			require.NoError(t, err)
			b, err := xcache.Fingerprint(tt.b)
			require.NoError(t, err)
			assert.NotEqual(t, a, b)
		})
	}
}
