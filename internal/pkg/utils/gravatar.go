package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// GetGravatarURL generates a Gravatar URL for the given email address.
// Default size is 200px if not specified.
func GetGravatarURL(email string, size int) string {
	if size <= 0 {
		size = 200
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=%d&d=mp", hex.EncodeToString(sum[:]), size)
}

// AvatarURL prefers the stored image and falls back to Gravatar.
func AvatarURL(image, email string) string {
	if image != "" {
		return image
	}
	return GetGravatarURL(email, 200)
}
