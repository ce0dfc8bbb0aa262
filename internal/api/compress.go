package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Pool compression writers to reduce allocations on listing endpoints.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

var zstdPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		return enc
	},
}

// negotiateEncoding picks zstd or gzip from an Accept-Encoding header,
// preferring zstd. Codings listed with q=0 are refused.
func negotiateEncoding(header string) string {
	var gz, zs bool
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if weight, err := strconv.ParseFloat(q, 64); err == nil && weight == 0 {
				continue
			}
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "zstd":
			zs = true
		case "gzip":
			gz = true
		}
	}
	switch {
	case zs:
		return "zstd"
	case gz:
		return "gzip"
	}
	return ""
}

// sendJSON writes v as JSON, compressed when the client accepts it.
func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Add("Vary", "Accept-Encoding")

	switch negotiateEncoding(r.Header.Get("Accept-Encoding")) {
	case "zstd":
		w.Header().Set("Content-Encoding", "zstd")
		w.WriteHeader(code)
		enc := zstdPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		json.NewEncoder(enc).Encode(v)
		enc.Close()
		zstdPool.Put(enc)
	case "gzip":
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(code)
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(v)
		gw.Close()
		gzipPool.Put(gw)
	default:
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(v)
	}
}
