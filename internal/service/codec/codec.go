// Package codec holds the wire formats feeds can speak.
package codec

import (
	"fmt"

	"MarketHub/internal/domain/repository"
)

// Lookup returns a fresh codec by name. Its signature matches hub.CodecResolver.
func Lookup(name string) (repository.Codec, error) {
	switch name {
	case "", "envelope":
		return NewEnvelope(), nil
	case "finnhub":
		return NewFinnhub(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
