package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionAutosaveKey returns the cache key for a session's latest snapshot
func (r *CacheKeyStruct) SessionAutosaveKey(sessionID string) string {
	return fmt.Sprintf("session:%s:autosave", sessionID)
}

// SessionStateKey returns the cache key for a session's hot timing state
func (r *CacheKeyStruct) SessionStateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

// SessionMonitorChannel returns the Redis PubSub channel name for a session monitor
func (r *CacheKeyStruct) SessionMonitorChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:monitor", sessionID)
}

var CacheKey = NewCacheKeyStruct()
