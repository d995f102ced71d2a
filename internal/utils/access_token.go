package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// AccessTokenPrefix marks chunkvault bearer tokens so secret scanners can spot leaks
	AccessTokenPrefix = "cv_"

	// AccessTokenRandomBytes is the entropy in a token (256 bits)
	AccessTokenRandomBytes = 32

	// AccessTokenLength is prefix plus hex-encoded random bytes
	AccessTokenLength = len(AccessTokenPrefix) + 2*AccessTokenRandomBytes

	accessTokenDisplayLength = len(AccessTokenPrefix) + 4
)

// GenerateAccessToken creates a new bearer token. Only its hash is stored;
// the token itself is shown once to the operator who minted it.
func GenerateAccessToken() (string, error) {
	b := make([]byte, AccessTokenRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return AccessTokenPrefix + hex.EncodeToString(b), nil
}

// HashAccessToken returns the SHA-256 hex digest used as the session key
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateAccessTokenFormat checks shape only; it says nothing about whether the token is live
func ValidateAccessTokenFormat(token string) bool {
	if len(token) != AccessTokenLength || !strings.HasPrefix(token, AccessTokenPrefix) {
		return false
	}
	_, err := hex.DecodeString(token[len(AccessTokenPrefix):])
	return err == nil
}

// MaskAccessToken hides all but the first and last few characters for logs
func MaskAccessToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) < AccessTokenLength {
		return "***"
	}
	return token[:accessTokenDisplayLength] + "***" + token[len(token)-3:]
}
