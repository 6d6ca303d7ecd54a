package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrNoFiles, http.StatusBadRequest},
		{ErrEmptyPrompt, http.StatusBadRequest},
		{Wrap(KindConversion, "bad workbook", errors.New("zip: not a valid zip file")), http.StatusBadRequest},
		{ErrProviderOverloaded, http.StatusServiceUnavailable},
		{fmt.Errorf("generate: %w", ErrProviderOverloaded), http.StatusServiceUnavailable},
		{ErrProviderNotFound, http.StatusNotFound},
		{ErrJobNotFound, http.StatusNotFound},
		{Wrap(KindUpload, "upload failed", errors.New("boom")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", Wrap(KindProviderOverloaded, "busy", errors.New("429")))
	assert.True(t, errors.Is(err, ErrProviderOverloaded))
	assert.False(t, errors.Is(err, ErrProviderNotFound))
	assert.Equal(t, KindProviderOverloaded, KindOf(err))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "prompt is empty", PublicMessage(ErrEmptyPrompt))
	assert.Equal(t, "failed to process request: boom", PublicMessage(errors.New("boom")))
}
