package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase once, from an environment variable
// or an interactive prompt, and caches the result.
type Source struct {
	envVar  string
	confirm bool
	read    func(fd int) ([]byte, error)
	isTTY   func(fd int) bool

	once  sync.Once
	value string
	err   error
}

// Option adjusts a Source.
type Option func(*Source)

// WithConfirmation asks for the passphrase twice when prompting. Use it when
// creating a keystore.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// NewSource returns a source that checks envVar before prompting on the
// terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		read:   term.ReadPassword,
		isTTY:  term.IsTerminal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase. A set environment variable is used verbatim;
// whitespace-only values are rejected either way.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	fd := int(os.Stdin.Fd())
	if !s.isTTY(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}
	first, err := s.prompt(fd, "Enter operator keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	if s.confirm {
		second, err := s.prompt(fd, "Repeat passphrase: ")
		if err != nil {
			return "", err
		}
		if second != first {
			return "", errors.New("passphrases do not match")
		}
	}
	return first, nil
}

func (s *Source) prompt(fd int, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := s.read(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}
