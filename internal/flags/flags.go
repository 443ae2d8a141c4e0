// Package flags derives and validates per-instance completion tokens.
//
// Flags are deterministic HMAC-SHA256 digests over the
// (challenge, user, instance) triple, so validation never looks anything up:
// it recomputes the expected value and compares in constant time.
package flags

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	appErr "secrange/pkg/errors"
	"secrange/pkg/utils/logger"
)

// Format: flag{16 lowercase hex chars}.
var flagPattern = regexp.MustCompile(`^flag\{[0-9a-f]{16}\}$`)

// Engine generates and validates instance flags with a shared secret.
type Engine struct {
	secret []byte
}

// NewEngine creates a flag engine. When secret is empty an ephemeral random
// key is generated: flags issued before a process restart then become
// unvalidatable, so production deployments must supply FLAG_SECRET_KEY.
func NewEngine(secret string) (*Engine, error) {
	if secret != "" {
		return &Engine{secret: []byte(secret)}, nil
	}

	ephemeral := make([]byte, 32)
	if _, err := rand.Read(ephemeral); err != nil {
		return nil, appErr.Wrapf(err, appErr.SecretMissing, "generate ephemeral flag secret failed")
	}
	logger.Warn(context.Background(),
		"no flag secret configured, generated ephemeral key; flags will not survive restart")
	return &Engine{secret: ephemeral}, nil
}

// Generate derives the flag for one challenge instance. Identical inputs
// always yield the identical flag.
func (e *Engine) Generate(challengeID, userID, instanceData string) string {
	mac := hmac.New(sha256.New, e.secret)
	fmt.Fprintf(mac, "%s:%s:%s", challengeID, userID, instanceData)
	digest := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("flag{%s}", digest[:16])
}

// Validate recomputes the expected flag and compares it against the
// submission in constant time. Malformed submissions fail without touching
// the secret.
func (e *Engine) Validate(submitted, challengeID, userID, instanceData string) bool {
	if !flagPattern.MatchString(submitted) {
		return false
	}
	expected := e.Generate(challengeID, userID, instanceData)
	return hmac.Equal([]byte(submitted), []byte(expected))
}

// NewInstanceData builds the per-spawn unique component mixed into the flag.
// The nonce guarantees two spawns of the same challenge by the same user never
// share a flag.
func NewInstanceData(now time.Time) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", appErr.Wrapf(err, appErr.InternalError, "generate instance nonce failed")
	}
	return fmt.Sprintf("ts:%d,nonce:%s", now.Unix(), hex.EncodeToString(nonce)), nil
}
