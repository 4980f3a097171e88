// Package digest computes streaming cryptographic digests of monitored
// resources. Constant memory regardless of resource size; a read deadline
// bounds how long a single hung resource can stall a cycle.
package digest

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"time"
)

// chunkSize is the read buffer size. Resources are folded through the
// hash in chunks of this size, never loaded whole.
const chunkSize = 64 * 1024

// Algorithm selects the hash function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// ParseAlgorithm validates a config string.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case SHA256, SHA512:
		return Algorithm(s), nil
	case "":
		return SHA256, nil
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", s)
	}
}

// IOError wraps a resource-level read failure. Callers distinguish it from
// a digest mismatch: an unreadable resource is skipped, not escalated.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("digest: read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Engine streams resource bytes through the configured hash function.
// Stateless; safe for concurrent use.
type Engine struct {
	algo        Algorithm
	readTimeout time.Duration
}

// NewEngine creates an Engine. A zero readTimeout disables the per-read
// deadline.
func NewEngine(algo Algorithm, readTimeout time.Duration) *Engine {
	return &Engine{algo: algo, readTimeout: readTimeout}
}

// Algorithm returns the configured hash algorithm.
func (e *Engine) Algorithm() Algorithm { return e.algo }

func (e *Engine) newHash() hash.Hash {
	if e.algo == SHA512 {
		return sha512.New()
	}
	return sha256.New()
}

// Compute returns the lowercase hex digest of the resource at path.
// Returns *IOError if the resource cannot be opened or read; the caller
// decides whether a missing resource is a violation (it is not, here).
// Cancellation is checked between chunks, and the read deadline expires
// as an *IOError.
func (e *Engine) Compute(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	deadline := time.Time{}
	if e.readTimeout > 0 {
		deadline = time.Now().Add(e.readTimeout)
	}

	h := e.newHash()
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-ctx.Done():
			return "", &IOError{Path: path, Err: ctx.Err()}
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return "", &IOError{Path: path, Err: fmt.Errorf("read deadline exceeded after %s", e.readTimeout)}
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &IOError{Path: path, Err: err}
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
