package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const nanoIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateNanoIDWithPrefix builds a prefixed record id, e.g. "user_x4f...".
func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, _ := gonanoid.Generate(nanoIDAlphabet, length)
	return prefix + "_" + id
}
