// Package storage defines the execution history store contract shared by
// the memory and postgres backends, together with its filter, sentinel
// errors and tenant context helpers.
package storage
