package cache

import "strings"

// keySeparator divides the scope and entity-type segments of a storage
// key.
const keySeparator = ":"

// StorageKey derives the persisted key for an entity collection.
//
// Collision freedom: the separator and the escape character are escaped
// inside each segment before joining, so distinct (scope, entityType)
// pairs always produce distinct keys, including pairs whose raw
// concatenations would collide (e.g. ("a:b","c") vs ("a","b:c")).
func StorageKey(scope, entityType string) string {
	return escapeSegment(scope) + keySeparator + escapeSegment(entityType)
}

func escapeSegment(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, keySeparator, "%3A")
	return s
}
