package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivar/backstop/internal/sysexec"
)

func newProvider(t *testing.T, fake *sysexec.Fake) *Provider {
	t.Helper()
	return NewProvider(zerolog.Nop(), fake, filepath.Join(t.TempDir(), "repo-password.gpg"))
}

func TestDecrypt_MissingFileFailsBeforeAnyCall(t *testing.T) {
	fake := sysexec.NewFake()
	p := newProvider(t, fake)

	_, err := p.Decrypt(context.Background())
	assert.ErrorIs(t, err, ErrSecretUnavailable)
	assert.Contains(t, err.Error(), "backstop init")
	assert.Empty(t, fake.Calls())
}

func TestDecrypt_ReturnsTrimmedPlaintext(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("gpg --batch --quiet --decrypt", sysexec.Result{Output: []byte("hunter2\n")})
	p := newProvider(t, fake)
	require.NoError(t, os.WriteFile(p.Path(), []byte("ciphertext"), 0o600))

	password, err := p.Decrypt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", password)
}

func TestDecrypt_GPGFailure(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("gpg", sysexec.Result{Err: errors.New("gpg: decryption failed: No secret key")})
	p := newProvider(t, fake)
	require.NoError(t, os.WriteFile(p.Path(), []byte("ciphertext"), 0o600))

	_, err := p.Decrypt(context.Background())
	assert.ErrorIs(t, err, ErrSecretUnavailable)
	assert.Contains(t, err.Error(), "No secret key")
}

func TestDecrypt_EmptyPlaintext(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("gpg", sysexec.Result{Output: []byte("\n")})
	p := newProvider(t, fake)
	require.NoError(t, os.WriteFile(p.Path(), []byte("ciphertext"), 0o600))

	_, err := p.Decrypt(context.Background())
	assert.ErrorIs(t, err, ErrSecretUnavailable)
}

func TestCreate_WritesOwnerOnlyCiphertext(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("gpg --batch --encrypt --recipient backup@example.org", sysexec.Result{Output: []byte("CIPHERTEXT")})
	p := newProvider(t, fake)

	require.NoError(t, p.Create(context.Background(), "backup@example.org", false))

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.Equal(t, "CIPHERTEXT", string(data))
}

func TestCreate_PlaintextTravelsViaStdinNotArgv(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("gpg", sysexec.Result{Output: []byte("CIPHERTEXT")})
	p := newProvider(t, fake)

	require.NoError(t, p.Create(context.Background(), "backup@example.org", false))

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Stdin)
	// The generated password is 44 base64 characters; nothing that long
	// may appear on the command line.
	for _, arg := range calls[0].Args {
		assert.Less(t, len(arg), 44)
	}
}

func TestCreate_RefusesOverwriteWithoutForce(t *testing.T) {
	fake := sysexec.NewFake()
	fake.Stub("gpg", sysexec.Result{Output: []byte("NEW")})
	p := newProvider(t, fake)
	require.NoError(t, os.WriteFile(p.Path(), []byte("OLD"), 0o600))

	err := p.Create(context.Background(), "backup@example.org", false)
	assert.ErrorIs(t, err, ErrSecretExists)
	assert.Empty(t, fake.Calls())

	require.NoError(t, p.Create(context.Background(), "backup@example.org", true))
	data, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.Equal(t, "NEW", string(data))
}

func TestCreate_RequiresRecipient(t *testing.T) {
	p := newProvider(t, sysexec.NewFake())
	err := p.Create(context.Background(), "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpg_recipient")
}
