// Package keysource supplies token-signing key material to the validator.
//
// All sources are consulted exactly once, during startup, before the server
// accepts requests; the resolved key is then immutable for the process
// lifetime. Supported sources: a static configuration value, an SSM
// SecureString parameter (HS256 secrets), and a KMS public key (RS256).
package keysource

import (
	"context"

	"github.com/seaword/apicore/internal/xerrors"
)

// Source yields symmetric signing-key material at startup.
type Source interface {
	Key(ctx context.Context) ([]byte, error)
}

type staticSource struct{ key []byte }

func (s staticSource) Key(context.Context) ([]byte, error) {
	if len(s.key) == 0 {
		return nil, xerrors.New("keysource: static key is empty")
	}
	return s.key, nil
}

// Static wraps key material supplied directly through configuration.
func Static(key []byte) Source { return staticSource{key: key} }
