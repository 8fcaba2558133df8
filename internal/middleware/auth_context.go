package middleware

import (
	"context"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/tokens"
)

type contextKey string

const operatorKey contextKey = "operator"

// Operator is the authenticated caller of a protected route.
type Operator struct {
	Subject string
	Role    tokens.Role
	TokenID string
}

func GetOperator(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(operatorKey).(*Operator)
	return op, ok
}

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}
