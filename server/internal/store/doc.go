// Package store holds the latest value of every tag seen by the server. It
// backs the REST tag endpoints and expires tags that stop updating.
package store
