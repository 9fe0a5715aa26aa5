// Package utils holds small helpers shared by roomgraph packages.
package utils

import "github.com/lucsky/cuid"

// NewSessionID returns a collision resistant id for a roomgraph session
func NewSessionID() string {
	return cuid.New()
}

// NewMessageID returns a short id attached to transported messages
func NewMessageID() string {
	return cuid.Slug()
}
