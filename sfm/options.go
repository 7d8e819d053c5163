package sfm

import "go.viam.com/sfm/bundle"

// options configures a Reconstructor.
type options struct {
	adjuster bundle.Adjuster
}

// Option configures how a Reconstructor is set up.
// Cribbed from https://github.com/grpc/grpc-go/blob/aff571cc86e6e7e740130dbbb32a9741558db805/dialoptions.go#L41
type Option interface {
	apply(*options)
}

// funcOption wraps a function that modifies options into an
// implementation of the Option interface.
type funcOption struct {
	f func(*options)
}

func (fdo *funcOption) apply(do *options) {
	fdo.f(do)
}

func newFuncOption(f func(*options)) *funcOption {
	return &funcOption{
		f: f,
	}
}

// WithAdjuster returns an Option which replaces the default Levenberg-Marquardt bundle
// adjuster.
func WithAdjuster(adjuster bundle.Adjuster) Option {
	return newFuncOption(func(o *options) {
		o.adjuster = adjuster
	})
}
