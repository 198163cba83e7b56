// Package turnrest issues coturn-compatible TURN REST (ephemeral)
// credentials for clients fetching their ICE configuration.
//
// Algorithm (draft-uberti-behave-turn-rest, as implemented by coturn):
//
//	username   = <unix_expiry>:<prefix>:<client_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The expiry is server-clock UTC now plus the configured TTL.
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Credentials is one ephemeral TURN username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generator mints Credentials from a shared secret. The zero value is not
// usable; construct with NewGenerator.
type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string

	now      func() time.Time
	clientID func() (string, error)
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and ClientID are injectable for tests; nil means server clock and
	// crypto/rand hex IDs.
	Now      func() time.Time
	ClientID func() (string, error)
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClientID == nil {
		cfg.ClientID = randomClientID
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		clientID:       cfg.ClientID,
	}, nil
}

// Generate mints credentials bound to the given client ID (typically a
// connection or request identifier, useful for correlating coturn logs).
func (g *Generator) Generate(clientID string) (Credentials, error) {
	if clientID == "" {
		return Credentials{}, errors.New("clientID is required")
	}
	if strings.Contains(clientID, ":") {
		return Credentials{}, errors.New("clientID must not contain ':'")
	}
	expiry := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiry, g.usernamePrefix, clientID)

	mac := hmac.New(sha1.New, g.sharedSecret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

// GenerateRandom mints credentials with a random client ID.
func (g *Generator) GenerateRandom() (Credentials, error) {
	id, err := g.clientID()
	if err != nil {
		return Credentials{}, err
	}
	return g.Generate(id)
}

func randomClientID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
