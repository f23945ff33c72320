package registry

import "context"

type registryContextKey struct{}

type resolvingContextKey struct{}

// WithContext returns a copy of ctx carrying r.
func WithContext(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryContextKey{}, r)
}

// FromContext returns the registry carried by ctx, or nil.
func FromContext(ctx context.Context) *Registry {
	if r, ok := ctx.Value(registryContextKey{}).(*Registry); ok {
		return r
	}
	return nil
}

// resolvingChain returns the names currently being constructed on this call chain.
func resolvingChain(ctx context.Context) []string {
	if chain, ok := ctx.Value(resolvingContextKey{}).([]string); ok {
		return chain
	}
	return nil
}

func withResolving(ctx context.Context, name string) context.Context {
	chain := resolvingChain(ctx)
	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	return context.WithValue(ctx, resolvingContextKey{}, append(next, name))
}
