// Package jsonx is the single JSON codec entry point for StormStack. Every
// subsystem that marshals wire payloads -- REST responses, WebSocket
// envelopes, world snapshots -- goes through this package rather than
// reaching for encoding/json directly, so the codec can be swapped in one
// place.
package jsonx

import jsoniter "github.com/json-iterator/go"

var (
	// API is the jsoniter configuration used throughout StormStack. It is
	// wire-compatible with encoding/json's output and struct tag semantics.
	API = jsoniter.ConfigCompatibleWithStandardLibrary

	// Marshal is a shorthand for API.Marshal.
	Marshal = API.Marshal

	// MarshalIndent is a shorthand for API.MarshalIndent.
	MarshalIndent = API.MarshalIndent

	// Unmarshal is a shorthand for API.Unmarshal.
	Unmarshal = API.Unmarshal

	// NewDecoder is a shorthand for API.NewDecoder.
	NewDecoder = API.NewDecoder

	// NewEncoder is a shorthand for API.NewEncoder.
	NewEncoder = API.NewEncoder
)
