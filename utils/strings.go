package utils

import "sync"

var cache sync.Map

// Intern deduplicates strings drawn from a small fixed set, such as HTTP methods.
func Intern(buf []byte) string {
	if v, ok := cache.Load(string(buf)); ok {
		return v.(string)
	}

	s := string(buf)
	cache.Store(s, s)
	return s
}
