// Package secret manages the encrypted repository password. The plaintext
// is recovered per run and handed to child processes through their
// environment only; it is never logged and never touches disk.
package secret

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/sysexec"
)

var (
	// ErrSecretUnavailable marks an absent or undecryptable secret file.
	ErrSecretUnavailable = errors.New("secret unavailable")
	// ErrSecretExists guards against silently overwriting a secret whose
	// loss would make the repository unreadable.
	ErrSecretExists = errors.New("secret file already exists")
)

// Provider decrypts and creates the secret file via the gpg binary.
type Provider struct {
	logger zerolog.Logger
	runner sysexec.Runner
	path   string
}

// NewProvider creates a Provider for the secret file at path.
func NewProvider(logger zerolog.Logger, runner sysexec.Runner, path string) *Provider {
	return &Provider{
		logger: logger.With().Str("component", "secret").Logger(),
		runner: runner,
		path:   path,
	}
}

// Path returns the secret file location.
func (p *Provider) Path() string {
	return p.path
}

// Exists reports whether the encrypted secret file is present.
func (p *Provider) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// Decrypt recovers the repository password non-interactively. It fails
// with ErrSecretUnavailable before any external call when the file is
// absent, and on gpg failure or empty plaintext.
func (p *Provider) Decrypt(ctx context.Context) (string, error) {
	if !p.Exists() {
		return "", fmt.Errorf("%w: %s not found, run `backstop init` first", ErrSecretUnavailable, p.path)
	}
	out, err := p.runner.Output(ctx, sysexec.Cmd{
		Name: "gpg",
		Args: []string{"--batch", "--quiet", "--decrypt", p.path},
	})
	if err != nil {
		return "", fmt.Errorf("%w: decrypt %s: %v", ErrSecretUnavailable, p.path, err)
	}
	password := strings.TrimSpace(string(out))
	if password == "" {
		return "", fmt.Errorf("%w: decrypted secret is empty", ErrSecretUnavailable)
	}
	return password, nil
}

// Create generates a fresh 256-bit password, encrypts it for recipient and
// writes the ciphertext with owner-only permissions. An existing file is
// only replaced when force is set.
func (p *Provider) Create(ctx context.Context, recipient string, force bool) error {
	if recipient == "" {
		return errors.New("gpg_recipient is not configured")
	}
	if p.Exists() && !force {
		return fmt.Errorf("%w: %s", ErrSecretExists, p.path)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	password := base64.StdEncoding.EncodeToString(raw)

	ciphertext, err := p.runner.Output(ctx, sysexec.Cmd{
		Name:  "gpg",
		Args:  []string{"--batch", "--encrypt", "--recipient", recipient},
		Stdin: strings.NewReader(password),
	})
	if err != nil {
		return fmt.Errorf("encrypt secret for %s: %w", recipient, err)
	}
	if len(bytes.TrimSpace(ciphertext)) == 0 {
		return fmt.Errorf("encrypt secret for %s: gpg produced no output", recipient)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create secret dir: %w", err)
	}
	if err := os.WriteFile(p.path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}

	p.logger.Info().Str("path", p.path).Str("recipient", recipient).Msg("encrypted secret created")
	return nil
}
