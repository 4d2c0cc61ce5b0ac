package cache

import "strings"

// Key is an ordered tuple identifying a cache slot, e.g.
// NewKey("chapters", novelID). Equal tuples denote the same slot.
type Key []string

// NewKey builds a key from its parts.
func NewKey(parts ...string) Key {
	return Key(parts)
}

// String joins the tuple for use as a map key. Parts never contain '/' in
// practice (kinds are fixed strings, ids are uuids/nanoids).
func (k Key) String() string {
	return strings.Join(k, "/")
}

// Kind returns the first tuple element, or "" for an empty key.
func (k Key) Kind() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// HasPrefix reports whether the key starts with the given parts.
func (k Key) HasPrefix(parts ...string) bool {
	if len(parts) > len(k) {
		return false
	}
	for i, p := range parts {
		if k[i] != p {
			return false
		}
	}
	return true
}

// Equal reports whether two keys denote the same slot.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}
