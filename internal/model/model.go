package model

import "github.com/facturabot/facturabot/internal/extraction"

// Client is a remote model provider with a releasable connection.
type Client interface {
	extraction.Model
	Close() error
}
