package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const tokenBytes = 32

// mintToken generates an opaque participant access token. Tokens carry no
// structure; the only way to validate one is to look it up within its run.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// buildAccessLink renders the shareable URL embedding a participant token.
func buildAccessLink(baseURL, runID, token string) string {
	return fmt.Sprintf("%s/r/%s?token=%s", strings.TrimSuffix(baseURL, "/"), runID, token)
}
