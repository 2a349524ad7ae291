// Package baseimage locates pinned base runtimes and stages them into a
// build environment.
package baseimage

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnpinned is returned for refs that do not name an exact runtime.
var ErrUnpinned = errors.New("base runtime is not pinned")

var (
	nameRe   = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)*$`)
	tagRe    = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)
	digestRe = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)
)

// floatingTags name moving targets and never count as pinned.
var floatingTags = map[string]bool{"latest": true, "stable": true, "edge": true}

// Ref names a base runtime as "name:tag", "name@sha256:..." or both.
type Ref struct {
	Name   string
	Tag    string
	Digest string
}

func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("base runtime ref is empty")
	}
	var r Ref
	if before, digest, ok := strings.Cut(s, "@"); ok {
		if !digestRe.MatchString(digest) {
			return Ref{}, fmt.Errorf("invalid digest in %q", s)
		}
		r.Digest = digest
		s = before
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		r.Tag = s[i+1:]
		s = s[:i]
		if !tagRe.MatchString(r.Tag) {
			return Ref{}, fmt.Errorf("invalid tag in %q", s+":"+r.Tag)
		}
	}
	if !nameRe.MatchString(s) {
		return Ref{}, fmt.Errorf("invalid runtime name %q", s)
	}
	r.Name = s
	if r.Digest == "" && (r.Tag == "" || floatingTags[r.Tag]) {
		return Ref{}, fmt.Errorf("%w: %q needs an exact tag or digest", ErrUnpinned, r.String())
	}
	return r, nil
}

func (r Ref) String() string {
	s := r.Name
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest
	}
	return s
}

// key is the lookup name under a source: the tag when present, else the
// digest.
func (r Ref) key() string {
	if r.Tag != "" {
		return r.Tag
	}
	return r.Digest
}
