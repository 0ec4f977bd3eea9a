// Package session keeps the per-request state between initiation and
// verification. A session is consumed at most once.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/internal/exchange_protocol"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
)

// ErrNotFound is returned for unknown, expired or already consumed sessions.
var ErrNotFound = errors.New("session not found")

const (
	DefaultMinAge = 18
	MinMinAge     = 1
	MaxMinAge     = 150
)

type Mode string

const (
	ModeStandard Mode = "standard"
	ModeZK       Mode = "zk"
)

func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModeZK
}

type State struct {
	ID            string                  `json:"id"`
	Nonce         exchange_protocol.Nonce `json:"nonce"`
	EncryptionKey *jose.JSONWebKey        `json:"encryptionKey,omitempty"`
	MinAge        int                     `json:"minAge"`
	Origin        string                  `json:"origin"`
	Mode          Mode                    `json:"mode"`
	Protocol      openid4vp.Protocol      `json:"protocol"`
	CreatedAt     time.Time               `json:"createdAt"`
}

// NormalizeMinAge applies the default to an unset minAge and rejects values
// outside [MinMinAge, MaxMinAge].
func NormalizeMinAge(minAge int) (int, error) {
	if minAge == 0 {
		return DefaultMinAge, nil
	}
	if minAge < MinMinAge || minAge > MaxMinAge {
		return 0, fmt.Errorf("minAge must be between %d and %d", MinMinAge, MaxMinAge)
	}
	return minAge, nil
}

type Store interface {
	// Save assigns a new id to s and stores it.
	Save(ctx context.Context, s *State) (string, error)
	// Consume returns the state of id and removes it.
	Consume(ctx context.Context, id string) (*State, error)
}
