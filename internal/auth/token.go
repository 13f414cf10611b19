// Package auth supplies bearer tokens to the connection and watches them
// for expiry.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/chatline/internal/chaterr"
)

var errNoToken = errors.New("no token configured")

// TokenSource supplies the bearer token for a connection attempt.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static is a fixed token, typically from config or CHATLINE_TOKEN.
type Static string

// Token implements TokenSource.
func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", chaterr.Auth("token", errNoToken)
	}
	return strings.TrimSpace(string(s)), nil
}

// File reads the token from a file on every call, so an external process
// can rotate it.
type File struct {
	Path string
}

// Token implements TokenSource.
func (f File) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", chaterr.Auth("token", fmt.Errorf("read token file: %w", err))
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", chaterr.Auth("token", fmt.Errorf("token file %s is empty", f.Path))
	}
	return tok, nil
}

// NewSource picks the token source for a profile: a token file wins over an
// inline token.
func NewSource(token, tokenFile string) TokenSource {
	if tokenFile != "" {
		return File{Path: tokenFile}
	}
	return Static(token)
}
