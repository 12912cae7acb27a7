package http

import (
	"log/slog"
	nethttp "net/http"
)

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests that do not carry
// their own client in the resolved Location.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithMaxBytes bounds the size of a downloaded body. Use 0 to disable the
// limit. Defaults to [DefaultMaxBytes].
func WithMaxBytes(n int64) Option {
	return func(s *Source) {
		if n < 0 {
			n = 0
		}
		s.maxBytes = n
	}
}

// WithResolver sets the resolver for storage references. Without one,
// storage references fail with source.ErrUnavailable.
func WithResolver(r Resolver) Option {
	return func(s *Source) {
		s.resolver = r
	}
}

// WithLogger sets the logger for download events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}
