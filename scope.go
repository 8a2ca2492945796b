package cqcache

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins scope segments. Logical keys may contain it; service and
// version may not.
const Separator = ":"

var ErrInvalidScope = errors.New("cqcache: invalid key scope")

// KeyScope namespaces logical keys by service and schema version:
//
//	{service}:{version}:{logicalKey}
//
// Prefix matching on scoped keys is a literal string prefix.
type KeyScope struct {
	service string
	version string
	prefix  string
}

// NewKeyScope validates service and version. Both must be non-empty and free of
// Separator so that the scope prefix can be recognised unambiguously.
func NewKeyScope(service, version string) (KeyScope, error) {
	if service == "" || version == "" {
		return KeyScope{}, fmt.Errorf("%w: service and version are required", ErrInvalidScope)
	}
	if strings.Contains(service, Separator) || strings.Contains(version, Separator) {
		return KeyScope{}, fmt.Errorf("%w: %q/%q must not contain %q", ErrInvalidScope, service, version, Separator)
	}
	return KeyScope{
		service: service,
		version: version,
		prefix:  service + Separator + version + Separator,
	}, nil
}

// MustKeyScope is like NewKeyScope but panics on error. Handy for tests.
func MustKeyScope(service, version string) KeyScope {
	s, err := NewKeyScope(service, version)
	if err != nil {
		panic(err)
	}
	return s
}

func (s KeyScope) Service() string { return s.service }
func (s KeyScope) Version() string { return s.version }

// Prefix returns "{service}:{version}:".
func (s KeyScope) Prefix() string { return s.prefix }

// IsZero reports whether s was not built by NewKeyScope.
func (s KeyScope) IsZero() bool { return s.prefix == "" }

// Scope returns the fully-qualified key for logicalKey.
func (s KeyScope) Scope(logicalKey string) string {
	return s.prefix + logicalKey
}

// Unscope strips the scope prefix. ok is false when key belongs to another scope.
func (s KeyScope) Unscope(key string) (logical string, ok bool) {
	if s.prefix == "" || !strings.HasPrefix(key, s.prefix) {
		return key, false
	}
	return key[len(s.prefix):], true
}
