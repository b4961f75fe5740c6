package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type requestDataKey struct{}

// UserClass is the entitlement tier carried by the session token.
type UserClass string

const (
	UserClassGuest   UserClass = "guest"
	UserClassRegular UserClass = "regular"
	UserClassPremium UserClass = "premium"
)

func ParseUserClass(s string) UserClass {
	switch UserClass(s) {
	case UserClassRegular, UserClassPremium:
		return UserClass(s)
	default:
		return UserClassGuest
	}
}

type RequestData struct {
	UserID    uuid.UUID
	UserClass UserClass
	IsAdmin   bool
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}
