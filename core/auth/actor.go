package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"taller-core/core/rbac"
)

// Identity resolution happens outside this system. The surrounding platform
// authenticates the caller and forwards the user id and role claim; Actor is
// that claim pair.
type Actor struct {
	ID   int64
	Role rbac.Role
}

type contextKey struct{}

// ActorContextKey carries the authenticated actor through request contexts.
var ActorContextKey = contextKey{}

var ErrNoActor = errors.New("no actor in context")

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

func FromContext(ctx context.Context) (Actor, error) {
	val := ctx.Value(ActorContextKey)
	if val == nil {
		return Actor{}, ErrNoActor
	}
	actor, ok := val.(Actor)
	if !ok {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}

// ParseActor builds an Actor from the trusted header values. The role must
// belong to the closed role set; the id must be a positive integer.
func ParseActor(idHeader, roleHeader string) (Actor, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(idHeader), 10, 64)
	if err != nil || id <= 0 {
		return Actor{}, errors.New("invalid actor id")
	}
	role := rbac.Role(strings.TrimSpace(roleHeader))
	if !rbac.KnownRole(role) {
		return Actor{}, errors.New("unknown role")
	}
	return Actor{ID: id, Role: role}, nil
}
