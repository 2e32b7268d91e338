package utils

import (
	"unsafe"
)

// BytesToString aliases b without copying. b must not be modified while the
// result is in use.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// JoinPath appends key to a dotted manifest path.
func JoinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
