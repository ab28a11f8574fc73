// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable and validated by the domain.
package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"telchat/errors"
)

// MaxContentLength bounds a single posted message, in runes.
const MaxContentLength = 300

// Message represents an immutable chat event.
type Message struct {
	ID      uuid.UUID // unique identifier
	Author  string
	Content string
	SentAt  time.Time
}

// ValidateContent bounds posted text to 1..MaxContentLength runes.
func ValidateContent(content string) error {
	if n := utf8.RuneCountInString(content); n < 1 || n > MaxContentLength {
		return errors.ErrMessageLength
	}
	return nil
}
