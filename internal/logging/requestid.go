// Package logging carries request-scoped identifiers through context so log
// lines from the engine and the gateway can be correlated.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "requestId"
	userIDKey    contextKey = "userId"
)

// GenerateRequestID creates an 8-character hex request ID.
func GenerateRequestID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserID injects the acting user into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the acting user from the context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// Prefix renders the identifiers in ctx as a log prefix, e.g.
// "[req=1a2b3c4d user=u1] ". It is empty when ctx carries neither.
func Prefix(ctx context.Context) string {
	var parts []string
	if id := GetRequestID(ctx); id != "" {
		parts = append(parts, "req="+id)
	}
	if id := GetUserID(ctx); id != "" {
		parts = append(parts, "user="+id)
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, " ") + "] "
}
