package provider

import "context"

type authKey struct{}

// AuthHeader is one caller-supplied credential header forwarded verbatim to
// upstream backends.
type AuthHeader struct {
	Name  string
	Value string
}

// WithAuthHeaders binds the caller's credential headers to the request
// context. Adapters read them at request-construction time, never at
// adapter-construction time.
func WithAuthHeaders(ctx context.Context, headers []AuthHeader) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, headers)
}

// AuthHeaders returns the bound credential headers, if any.
func AuthHeaders(ctx context.Context) []AuthHeader {
	if hs, ok := ctx.Value(authKey{}).([]AuthHeader); ok {
		return hs
	}
	return nil
}
