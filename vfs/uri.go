package vfs

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// URI is an opaque hierarchical identifier (scheme://authority/path).
// Equality is byte-exact on its canonical form, so URI is a plain string
// rather than a struct with derived fields that could drift out of sync.
type URI string

// NewURI canonicalizes a raw string into a URI. A bare path with no scheme
// is treated as file://<abs-or-relative-path>, matching the "local path"
// convenience most VFS implementations offer; a relative path is first made
// absolute against the working directory.
func NewURI(raw string) URI {
	if strings.Contains(raw, "://") {
		return URI(raw)
	}
	if !path.IsAbs(raw) {
		if abs, err := filepath.Abs(raw); err == nil {
			raw = abs
		}
	}
	return URI("file://" + raw)
}

// Scheme returns the URI's scheme ("file", "s3", ...).
func (u URI) Scheme() string {
	s := string(u)
	if i := strings.Index(s, "://"); i >= 0 {
		return s[:i]
	}
	return ""
}

// Authority returns the URI's authority component (bucket name for s3://).
func (u URI) Authority() string {
	s := string(u)
	i := strings.Index(s, "://")
	if i < 0 {
		return ""
	}
	rest := s[i+3:]
	if j := strings.Index(rest, "/"); j >= 0 {
		return rest[:j]
	}
	return rest
}

// Path returns the URI's path component, including the leading slash.
func (u URI) Path() string {
	s := string(u)
	i := strings.Index(s, "://")
	if i < 0 {
		return s
	}
	rest := s[i+3:]
	if j := strings.Index(rest, "/"); j >= 0 {
		return rest[j:]
	}
	return "/"
}

// Join appends a path component, returning a new child URI. Used to build
// fragment and schema file URIs from an array URI.
func (u URI) Join(elem ...string) URI {
	s := string(u)
	s = strings.TrimRight(s, "/")
	for _, e := range elem {
		s = s + "/" + strings.TrimLeft(e, "/")
	}
	return URI(s)
}

// Parent returns the URI one path component up.
func (u URI) Parent() URI {
	s := string(u)
	i := strings.Index(s, "://")
	prefix := ""
	rest := s
	if i >= 0 {
		prefix = s[:i+3]
		rest = s[i+3:]
	}
	rest = strings.TrimRight(rest, "/")
	rest = path.Dir(rest)
	return URI(prefix + rest)
}

// Basename returns the final path component.
func (u URI) Basename() string {
	return path.Base(u.Path())
}

// String satisfies fmt.Stringer.
func (u URI) String() string { return string(u) }

// Escaped returns a form safe to embed in log messages or error text: the
// URI query-escaped with url.QueryEscape (so "/" becomes "%2F"); it exists
// as a named hook so future encodings can change centrally.
func (u URI) Escaped() string {
	return url.QueryEscape(string(u))
}
