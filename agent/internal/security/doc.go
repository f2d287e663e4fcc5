// Package security inspects the TLS certificate served by a source so the
// agent can publish its remaining lifetime as a tag.
package security
