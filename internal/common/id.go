package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique session ID with the "ses_" prefix
// Format: ses_<uuid>
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewCacheToken generates a token appended to resolved asset URLs so
// downstream caches never serve a stale artifact for a reused URL.
func NewCacheToken() string {
	return uuid.New().String()
}
