// Package env composes the environment handed to the worker process.
package env

import (
	"os"
	"strings"
)

// Set is an ordered K=V collection. Setting an existing key keeps its
// original position and replaces the value.
type Set struct {
	m     map[string]string
	order []string
}

func New() *Set {
	return &Set{m: make(map[string]string)}
}

// FromOS returns a Set seeded with the current process environment.
func FromOS() *Set {
	s := New()
	s.Apply(os.Environ())
	return s
}

// FromList returns a Set built from "K=V" entries.
func FromList(kvs []string) *Set {
	s := New()
	s.Apply(kvs)
	return s
}

// Set sets k=v. Empty keys are ignored.
func (s *Set) Set(k, v string) {
	if k == "" {
		return
	}
	if _, ok := s.m[k]; !ok {
		s.order = append(s.order, k)
	}
	s.m[k] = v
}

// Apply sets every "K=V" entry in order. Entries without '=' or with an
// empty key are skipped.
func (s *Set) Apply(kvs []string) {
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			s.Set(k, v)
		}
	}
}

// Get returns the value of k.
func (s *Set) Get(k string) (string, bool) {
	v, ok := s.m[k]
	return v, ok
}

// Len returns the number of keys.
func (s *Set) Len() int { return len(s.order) }

// List returns the entries as "K=V" in insertion order.
func (s *Set) List() []string {
	out := make([]string, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, k+"="+s.m[k])
	}
	return out
}

// Expanded is List with ${VAR} references in values replaced by the value of
// VAR in the set. References to unknown names are left as written and
// substituted values are not expanded again.
func (s *Set) Expanded() []string {
	out := make([]string, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, k+"="+expand(s.m[k], s.m))
	}
	return out
}

func expand(v string, m map[string]string) string {
	if !strings.Contains(v, "${") {
		return v
	}
	var b strings.Builder
	for {
		i := strings.Index(v, "${")
		if i < 0 {
			b.WriteString(v)
			return b.String()
		}
		j := strings.IndexByte(v[i+2:], '}')
		if j < 0 {
			b.WriteString(v)
			return b.String()
		}
		name := v[i+2 : i+2+j]
		b.WriteString(v[:i])
		if val, ok := m[name]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(v[i : i+3+j])
		}
		v = v[i+3+j:]
	}
}
