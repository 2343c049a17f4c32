package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func TestVerify(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	good := Sign("whsec-1", body)

	tests := []struct {
		name      string
		secret    string
		signature string
		wantErr   error
	}{
		{name: "valid", secret: "whsec-1", signature: good},
		{name: "valid with prefix", secret: "whsec-1", signature: "sha256=" + good},
		{name: "wrong secret", secret: "whsec-2", signature: good, wantErr: ErrInvalidSignature},
		{name: "missing", secret: "whsec-1", signature: "", wantErr: ErrMissingSignature},
		{name: "not hex", secret: "whsec-1", signature: "zzzz", wantErr: ErrInvalidSignature},
		{name: "truncated", secret: "whsec-1", signature: good[:10], wantErr: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.secret, body, tt.signature)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerify_TamperedBody(t *testing.T) {
	signature := Sign("whsec-1", []byte(`{"content":"hello"}`))
	assert.ErrorIs(t, Verify("whsec-1", []byte(`{"content":"hell0"}`), signature), ErrInvalidSignature)
}

func TestPayload_Normalize(t *testing.T) {
	out, err := Payload{}.Normalize(models.IntegrationTypeOpenAI)
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, out["prompt"])
	assert.Equal(t, "article", out["type"])

	_, err = Payload{Title: "no body"}.Normalize(models.IntegrationTypeN8N)
	assert.ErrorIs(t, err, ErrContentRequired)

	out, err = Payload{Content: "<p>hi</p>", Type: "story"}.Normalize(models.IntegrationTypeCustom)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", out["content"])
	assert.Equal(t, "story", out["type"])
	assert.NotContains(t, out, "prompt")
}
