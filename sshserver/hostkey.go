package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// HostKey is the shell's SSH identity.
type HostKey struct {
	Signer      ssh.Signer
	Fingerprint string
	// Created reports whether this call generated the key.
	Created bool
}

// EnsureHostKey loads the ed25519 host key at path, generating it on first
// use. An existing key file readable by group or others is refused.
func EnsureHostKey(path string) (HostKey, error) {
	if strings.TrimSpace(path) == "" {
		return HostKey{}, errors.New("ssh host key path is required")
	}
	key, err := loadHostKey(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return key, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return HostKey{}, fmt.Errorf("create host key dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return HostKey{}, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "contractpad host key")
	if err != nil {
		return HostKey{}, fmt.Errorf("marshal host key: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// another process won the race
		return loadHostKey(path)
	}
	if err != nil {
		return HostKey{}, fmt.Errorf("write host key: %w", err)
	}
	if err := pem.Encode(file, block); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return HostKey{}, fmt.Errorf("encode host key: %w", err)
	}
	if err := file.Close(); err != nil {
		return HostKey{}, fmt.Errorf("close host key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return HostKey{}, err
	}
	return HostKey{Signer: signer, Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()), Created: true}, nil
}

func loadHostKey(path string) (HostKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return HostKey{}, fmt.Errorf("stat host key: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return HostKey{}, fmt.Errorf("host key %s has mode %v, want 0600", path, info.Mode().Perm())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return HostKey{}, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return HostKey{}, fmt.Errorf("parse host key: %w", err)
	}
	return HostKey{Signer: signer, Fingerprint: ssh.FingerprintSHA256(signer.PublicKey())}, nil
}
