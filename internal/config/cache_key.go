package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CandidateActiveSessionKey returns the cache key mapping a candidate to
// their current IN_PROGRESS session id and start time. Written by the exam
// clock stream on a cache miss, expires with the session window.
func (r *CacheKeyStruct) CandidateActiveSessionKey(userID string) string {
	return fmt.Sprintf("candidate:%s:active_session", userID)
}

var CacheKey = NewCacheKeyStruct()
