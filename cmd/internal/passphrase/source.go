// Package passphrase resolves keystore passphrases for the vault command
// line tools, preferring an environment variable over an interactive prompt.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when no environment variable carries the secret
// and stdin is not a terminal to prompt on.
var ErrNoTerminal = errors.New("passphrase: no terminal available for prompt")

// Source resolves a keystore passphrase once and caches the result for the
// life of the process, so commands touching several keystore files only ask
// the operator a single time.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource builds a source that consults envVar before falling back to a
// hidden terminal prompt on stderr.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get resolves the passphrase on first call and returns the cached value
// afterwards.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve(false) })
	return s.value, s.err
}

// GetConfirmed behaves like Get but makes interactive entry double-keyed, so
// a new keystore is never written under a mistyped secret. Values taken from
// the environment are not re-confirmed.
func (s *Source) GetConfirmed() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve(true) })
	return s.value, s.err
}

func (s *Source) resolve(confirm bool) (string, error) {
	if value, handled, err := s.fromEnv(); handled {
		return value, err
	}
	return s.fromTerminal(confirm)
}

func (s *Source) fromEnv() (string, bool, error) {
	if s.envVar == "" {
		return "", false, nil
	}
	value, ok := os.LookupEnv(s.envVar)
	if !ok {
		return "", false, nil
	}
	if strings.TrimSpace(value) == "" {
		return "", true, fmt.Errorf("passphrase: %s is set but empty", s.envVar)
	}
	return value, true, nil
}

func (s *Source) fromTerminal(confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("passphrase: set %s or run interactively: %w", s.envVar, ErrNoTerminal)
		}
		return "", ErrNoTerminal
	}
	entered, err := readHidden(fd, "Enter keystore passphrase: ")
	if err != nil {
		return "", err
	}
	// A whitespace-only secret leaves the keystore effectively unprotected.
	if strings.TrimSpace(entered) == "" {
		return "", errors.New("passphrase: keystore passphrase cannot be empty")
	}
	if confirm {
		again, err := readHidden(fd, "Confirm keystore passphrase: ")
		if err != nil {
			return "", err
		}
		if again != entered {
			return "", errors.New("passphrase: entries do not match")
		}
	}
	return entered, nil
}

func readHidden(fd int, prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("passphrase: read: %w", err)
	}
	return string(raw), nil
}
