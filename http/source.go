// Package http provides a ByteSource that downloads images over HTTP.
//
// URL descriptors are fetched directly. Storage references are first turned
// into a [Location] by a [Resolver], for example a presigned S3 URL or an OCI
// registry blob URL, and then fetched the same way.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/url"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/imgfetch/source"
)

// DefaultMaxBytes is the default limit on the size of a downloaded image.
const DefaultMaxBytes int64 = 32 << 20

// maxDrain bounds how much of an unread body is discarded before closing.
const maxDrain = 4 << 10

// Source downloads image bytes with HTTP GET requests.
// It satisfies source.ByteSource and is safe for concurrent use.
type Source struct {
	client   *nethttp.Client
	headers  nethttp.Header
	maxBytes int64
	resolver Resolver
	logger   *slog.Logger
}

// Interface compliance.
var _ source.ByteSource = (*Source)(nil)

// New creates a Source.
func New(opts ...Option) *Source {
	s := &Source{
		client:   nethttp.DefaultClient,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Fetch downloads the bytes named by d.
//
// Only a 200 response succeeds. Progress is reported after every read with
// the response Content-Length as total, or 0 when the length is unknown.
// Failures wrap source.ErrUnavailable; a canceled ctx returns ctx.Err().
func (s *Source) Fetch(ctx context.Context, d source.Descriptor, progress source.ProgressFunc) ([]byte, error) {
	if source.IsEmpty(d) {
		return nil, source.ErrEmpty
	}
	if err := source.Validate(d); err != nil {
		return nil, err
	}
	loc, err := s.locate(ctx, d)
	if err != nil {
		return nil, err
	}
	data, err := s.get(ctx, loc, progress)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	s.logger.Debug("downloaded image", "source", d.String(), "bytes", len(data))
	return data, nil
}

func (s *Source) locate(ctx context.Context, d source.Descriptor) (Location, error) {
	switch v := d.(type) {
	case source.URL:
		return Location{URL: v.String()}, nil
	case source.StorageReference:
		if s.resolver == nil {
			return Location{}, fmt.Errorf("%w: no resolver for storage reference %s", source.ErrUnavailable, v)
		}
		loc, err := s.resolver.Resolve(ctx, v.Normalized())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Location{}, ctxErr
			}
			if errors.Is(err, source.ErrUnavailable) || errors.Is(err, source.ErrInvalid) {
				return Location{}, err
			}
			return Location{}, fmt.Errorf("%w: resolve %s: %v", source.ErrUnavailable, v, err)
		}
		if loc.URL == "" {
			return Location{}, fmt.Errorf("%w: resolver returned no url for %s", source.ErrUnavailable, v)
		}
		return loc, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported descriptor %T", source.ErrInvalid, d)
	}
}

func (s *Source) get(ctx context.Context, loc Location, progress source.ProgressFunc) ([]byte, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrInvalid, redactErr(err))
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	for key, values := range loc.Header {
		req.Header.Del(key)
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	client := s.client
	if loc.Client != nil {
		client = loc.Client
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", source.ErrUnavailable, redactErr(err))
	}
	defer func() {
		// Rejected bodies may be huge; only a short tail is drained for
		// connection reuse.
		_, _ = io.CopyN(io.Discard, resp.Body, maxDrain)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %s", source.ErrUnavailable, redact(loc.URL), resp.Status)
	}
	if s.maxBytes > 0 && resp.ContentLength > s.maxBytes {
		return nil, fmt.Errorf("%w: content length %d exceeds limit %d", source.ErrUnavailable, resp.ContentLength, s.maxBytes)
	}

	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}
	var body io.Reader = resp.Body
	if s.maxBytes > 0 {
		body = io.LimitReader(resp.Body, s.maxBytes+1)
	}
	data, err := io.ReadAll(&progressReader{r: body, total: total, fn: progress})
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", source.ErrUnavailable, redactErr(err))
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: body exceeds limit %d", source.ErrUnavailable, s.maxBytes)
	}

	if loc.Digest != "" {
		if err := verify(loc.Digest, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func verify(expected digest.Digest, data []byte) error {
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("%w: invalid digest %q: %v", source.ErrUnavailable, expected, err)
	}
	if actual := expected.Algorithm().FromBytes(data); actual != expected {
		return fmt.Errorf("%w: digest mismatch: expected %s, got %s", source.ErrUnavailable, expected, actual)
	}
	return nil
}

// redact strips the query and credentials, which may carry presigned
// signatures, from a URL before it is logged or returned in an error.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// redactErr strips credentials from the URL carried by a *url.Error.
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redact(ue.URL)
	}
	return err
}

type progressReader struct {
	r     io.Reader
	done  uint64
	total uint64
	fn    source.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += uint64(n)
		p.fn.Report(p.done, p.total)
	}
	return n, err
}
