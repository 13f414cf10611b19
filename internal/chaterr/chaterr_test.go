package chaterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"auth", Auth("connect", errors.New("401")), KindAuth},
		{"wrapped network", fmt.Errorf("dial: %w", Network("dial", errors.New("refused"))), KindNetwork},
		{"not found", NotFound("resend", "no such message"), KindNotFound},
		{"plain", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsMatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("handshake: %w", Auth("authenticate", errors.New("unauthorized")))
	assert.ErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrNetwork)
	assert.True(t, IsFatal(err), "auth is fatal")
	assert.False(t, IsFatal(Network("read", errors.New("eof"))), "network is retried")
}

func TestErrorMessage(t *testing.T) {
	err := Network("dial", errors.New("connection refused"))
	assert.EqualError(t, err, "dial: NETWORK: connection refused")

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Error(t, errors.Unwrap(ce), "cause is kept")
}
