package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const brotliQuality = 4

// Writer pools keyed by Content-Encoding token. Order is preference.
var encoders = []struct {
	name string
	pool *sync.Pool
}{
	{"br", &sync.Pool{New: func() any { return brotli.NewWriterLevel(io.Discard, brotliQuality) }}},
	{"zstd", &sync.Pool{New: func() any {
		w, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		return w
	}}},
	{"gzip", &sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	}}},
}

type resettableWriter interface {
	io.WriteCloser
	Reset(io.Writer)
	Flush() error
}

// negotiate picks the preferred encoding the client accepts. A q-value of
// zero excludes.
func negotiate(header string) int {
	accepted := map[string]bool{}
	for part := range strings.SplitSeq(header, ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if refused(params) {
			continue
		}
		accepted[strings.ToLower(strings.TrimSpace(enc))] = true
	}
	for i, e := range encoders {
		if accepted[e.name] {
			return i
		}
	}
	return -1
}

// refused reports whether the parameters carry a q-value <= 0. A malformed
// q-value is ignored.
func refused(params string) bool {
	for param := range strings.SplitSeq(params, ";") {
		key, value, ok := strings.Cut(param, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		return q <= 0
	}
	return false
}

// compressMiddleware compresses API responses with the first encoder the
// client accepts.
func compressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := negotiate(r.Header.Get("Accept-Encoding"))
		if idx < 0 {
			next.ServeHTTP(w, r)
			return
		}
		cw := &compressWriter{ResponseWriter: w, enc: idx}
		defer cw.close()
		next.ServeHTTP(cw, r)
	})
}

// compressWriter decides at WriteHeader time whether to compress.
type compressWriter struct {
	http.ResponseWriter
	enc     int
	w       resettableWriter
	started bool
}

func (cw *compressWriter) WriteHeader(code int) {
	if cw.started {
		return
	}
	cw.started = true

	h := cw.Header()
	skip := h.Get("Content-Encoding") != "" ||
		code == http.StatusNoContent || code == http.StatusNotModified ||
		code == http.StatusTooManyRequests
	if !skip {
		h.Set("Content-Encoding", encoders[cw.enc].name)
		h.Del("Content-Length")
		h.Add("Vary", "Accept-Encoding")
		cw.w = encoders[cw.enc].pool.Get().(resettableWriter)
		cw.w.Reset(cw.ResponseWriter)
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *compressWriter) Write(b []byte) (int, error) {
	if !cw.started {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.w != nil {
		return cw.w.Write(b)
	}
	return cw.ResponseWriter.Write(b)
}

func (cw *compressWriter) Flush() {
	if cw.w != nil {
		_ = cw.w.Flush()
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (cw *compressWriter) close() {
	if cw.w == nil {
		return
	}
	_ = cw.w.Close()
	encoders[cw.enc].pool.Put(cw.w)
	cw.w = nil
}
