// Package querycache provides a keyed cache of backend responses,
// namespaced by the active Identity. Every key embeds the identity id
// so no entry can outlive or leak across the session it was fetched
// under; ending or replacing a session invalidates the whole namespace
// atomically.
package querycache

import "strings"

// keySeparator joins key segments. A control character keeps
// caller-supplied parts from colliding with the namespace prefix.
const keySeparator = "\x1f"

// namespacePrefix is the literal leading segment of every cache key.
const namespacePrefix = "auth"

// Key addresses one cache entry as (identity id, logical query parts).
type Key struct {
	identityID string
	parts      []string
}

// NewKey builds a Key scoped to the identity.
func NewKey(identityID string, parts ...string) Key {
	cloned := make([]string, len(parts))
	copy(cloned, parts)
	return Key{identityID: identityID, parts: cloned}
}

// IdentityID returns the identity segment of the key.
func (key Key) IdentityID() string {
	return key.identityID
}

// String renders the canonical cache key.
func (key Key) String() string {
	segments := make([]string, 0, len(key.parts)+2)
	segments = append(segments, namespacePrefix, key.identityID)
	segments = append(segments, key.parts...)
	return strings.Join(segments, keySeparator)
}

// identityNamespace returns the prefix shared by all keys of one identity.
func identityNamespace(identityID string) string {
	return namespacePrefix + keySeparator + identityID + keySeparator
}
