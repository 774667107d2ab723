package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// PeerIDRegex validates peer ID format
	PeerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSessionName validates a session display name
func ValidateSessionName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("session name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("session name is too long (max 100 characters)")
	}
	return nil
}

// ValidatePeerName validates a peer display name
func ValidatePeerName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("peer name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("peer name is too long (max 100 characters)")
	}
	return nil
}

// ValidatePeerID validates peer ID format
func ValidatePeerID(peerID string) error {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > 64 {
		return fmt.Errorf("peer ID is too long (max 64 characters)")
	}
	if !PeerIDRegex.MatchString(peerID) {
		return fmt.Errorf("peer ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateSessionID validates session ID format
func ValidateSessionID(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 64 {
		return fmt.Errorf("session ID is too long (max 64 characters)")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("session ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateMaxPeers validates the peer capacity of a session
func ValidateMaxPeers(maxPeers int) error {
	if maxPeers < 2 {
		return fmt.Errorf("max peers must be at least 2")
	}
	if maxPeers > 64 {
		return fmt.Errorf("max peers is too large (max 64)")
	}
	return nil
}

// ValidateChannel validates a channel number
func ValidateChannel(channel byte) error {
	if channel > 15 {
		return fmt.Errorf("channel must be within 0-15, got %d", channel)
	}
	return nil
}

// ValidateDataByte validates a 7-bit data byte
func ValidateDataByte(value byte) error {
	if value > 127 {
		return fmt.Errorf("data byte must be within 0-127, got %d", value)
	}
	return nil
}

// SanitizeString removes control characters and trims whitespace
func SanitizeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
