package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"
)

// slowOrigin makes the bench image server behave like a distant host: every
// response waits latency before its first byte and the body is then paced
// to bytesPerSecond. Zero values disable either.
func slowOrigin(next nethttp.Handler, latency time.Duration, bytesPerSecond int64) nethttp.Handler {
	if latency <= 0 && bytesPerSecond <= 0 {
		return next
	}
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !pause(r.Context(), latency) {
			return
		}
		if bytesPerSecond > 0 {
			w = &pacedWriter{
				ResponseWriter: w,
				ctx:            r.Context(),
				rate:           bytesPerSecond,
				start:          time.Now(),
			}
		}
		next.ServeHTTP(w, r)
	})
}

// pacedWriter flushes the body in slices of a tenth of a second's worth of
// bandwidth and holds each slice back until it is due.
type pacedWriter struct {
	nethttp.ResponseWriter
	ctx   context.Context
	rate  int64
	start time.Time
	sent  int64
}

func (w *pacedWriter) Write(p []byte) (int, error) {
	slice := max(w.rate/10, 512)
	written := 0
	for len(p) > 0 {
		n := min(int64(len(p)), slice)
		m, err := w.ResponseWriter.Write(p[:n])
		written += m
		w.sent += int64(m)
		if err != nil {
			return written, err
		}
		if f, ok := w.ResponseWriter.(nethttp.Flusher); ok {
			f.Flush()
		}
		p = p[n:]

		due := time.Duration(float64(w.sent) / float64(w.rate) * float64(time.Second))
		if !pause(w.ctx, due-time.Since(w.start)) {
			return written, w.ctx.Err()
		}
	}
	return written, nil
}

// pause sleeps for d and reports false if ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var bandwidthUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"gb", 1 << 30},
	{"g", 1 << 30},
	{"mb", 1 << 20},
	{"m", 1 << 20},
	{"kb", 1 << 10},
	{"k", 1 << 10},
	{"b", 1},
}

// parseBandwidth parses sizes such as "512k", "10MB/s" or "2mbps" into
// bytes per second. An empty string means unlimited.
func parseBandwidth(value string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(value))
	if text == "" {
		return 0, nil
	}
	text = strings.TrimSuffix(text, "/s")
	text = strings.TrimSuffix(text, "ps")

	multiplier := int64(1)
	for _, unit := range bandwidthUnits {
		if strings.HasSuffix(text, unit.suffix) {
			multiplier = unit.multiplier
			text = strings.TrimSuffix(text, unit.suffix)
			break
		}
	}
	raw, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || raw <= 0 {
		return 0, fmt.Errorf("invalid bandwidth %q", value)
	}
	return raw * multiplier, nil
}
