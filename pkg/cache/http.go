package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used when a response carries neither Expires nor max-age.
const DefaultTTL = 60 * time.Second

// ResponseToEntry reads resp into an Entry and restores resp.Body for the
// caller. defaultTTL applies when the response does not state its lifetime.
func ResponseToEntry(resp *http.Response, defaultTTL time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, errors.New("response cannot be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	entry := &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   now,
		Expires:    Expiry(resp.Header, now, defaultTTL),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			entry.LastModified = t
		}
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a cached entry.
func EntryToResponse(entry *Entry) *http.Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("X-Cache", "HIT")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
	}
}

// Expiry returns when a response with headers h, received at now, goes stale.
// Cache-Control max-age wins over Expires; no-store and no-cache expire at once.
func Expiry(h http.Header, now time.Time, defaultTTL time.Duration) time.Time {
	if maxAge, ok, stop := parseCacheControl(h.Get("Cache-Control")); stop {
		return now
	} else if ok {
		return now.Add(maxAge)
	}

	if s := h.Get("Expires"); s != "" {
		t, err := http.ParseTime(s)
		if err != nil {
			return now.Add(defaultTTL)
		}
		if t.Before(now) {
			return now
		}
		return t
	}

	return now.Add(defaultTTL)
}

// Storable reports whether a response with headers h may be cached at all.
func Storable(h http.Header) bool {
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
			return false
		}
	}
	return true
}

// parseCacheControl returns the max-age directive, whether it was present, and
// whether the response must not be reused.
func parseCacheControl(v string) (maxAge time.Duration, ok, stop bool) {
	for _, directive := range strings.Split(v, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		switch {
		case directive == "no-store" || directive == "no-cache":
			return 0, false, true
		case strings.HasPrefix(directive, "max-age="):
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			if err != nil || secs < 0 {
				continue
			}
			maxAge, ok = time.Duration(secs)*time.Second, true
		}
	}
	return maxAge, ok, false
}

// ShouldMakeConditionalRequest reports whether entry can be revalidated.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	return entry != nil && entry.Revalidatable()
}

// AddConditionalHeaders sets If-None-Match, or If-Modified-Since when the
// entry has no ETag.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
