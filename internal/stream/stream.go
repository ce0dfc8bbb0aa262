// Package stream serves file contents with HTTP byte-range support.
package stream

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fruitsalade/bitflow/internal/inspect"
	"github.com/fruitsalade/bitflow/internal/logging"
	"github.com/fruitsalade/bitflow/internal/mediaerr"
	"github.com/fruitsalade/bitflow/internal/mediaroot"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 1 << 20

// Mode selects the Content-Disposition of a response.
type Mode int

const (
	Inline Mode = iota
	Attachment
)

func (m Mode) String() string {
	if m == Attachment {
		return "attachment"
	}
	return "inline"
}

// Server opens files for streaming. Read buffers are pooled across
// responses.
type Server struct {
	chunkSize int
	buffers   sync.Pool
}

// New creates a stream server reading chunkSize bytes at a time.
func New(chunkSize int) *Server {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := &Server{chunkSize: chunkSize}
	s.buffers.New = func() any {
		b := make([]byte, s.chunkSize)
		return &b
	}
	return s
}

// ChunkSize returns the configured read size.
func (s *Server) ChunkSize() int {
	return s.chunkSize
}

// Response is an opened stream. Status and Header are final once Open
// returns; the body is produced by WriteTo. Callers that do not call
// WriteTo must call Close.
type Response struct {
	Status      int
	Header      http.Header
	Size        int64
	ContentType string
	Range       *ByteRange

	srv     *Server
	file    *os.File
	logical string
	offset  int64
	length  int64
	once    sync.Once
}

// Open prepares a response for path. Size and content type are read once
// here. An unsatisfiable rangeHeader yields a 416 response without a body;
// other failures are returned as classified errors.
func (s *Server) Open(path mediaroot.PhysicalPath, mode Mode, rangeHeader string) (*Response, error) {
	if path.IsZero() {
		return nil, mediaerr.New(mediaerr.InvalidPath, "invalid path")
	}
	// Opening a pipe or device can block, so the type is checked first.
	info, err := os.Stat(path.String())
	if err != nil {
		return nil, mediaerr.FromOS(err, path.Logical())
	}
	if !info.Mode().IsRegular() {
		return nil, mediaerr.New(mediaerr.InvalidPath, "path is not a file: "+path.Logical())
	}
	f, err := os.Open(path.String())
	if err != nil {
		return nil, mediaerr.FromOS(err, path.Logical())
	}
	if info, err = f.Stat(); err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, mediaerr.New(mediaerr.InvalidPath, "path is not a file: "+path.Logical())
	}

	size := info.Size()
	ct := inspect.ContentType(path.Name(), io.NewSectionReader(f, 0, size))

	resp := &Response{
		Status:      http.StatusOK,
		Header:      make(http.Header),
		Size:        size,
		ContentType: ct,
		srv:         s,
		file:        f,
		logical:     path.Logical(),
		length:      size,
	}
	resp.Header.Set("Content-Type", ct)
	resp.Header.Set("Accept-Ranges", "bytes")
	resp.Header.Set("Content-Disposition", disposition(mode, path.Name()))
	resp.Header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	if rangeHeader != "" {
		br, err := ParseRange(rangeHeader, size)
		if err != nil {
			f.Close()
			resp.file = nil
			resp.length = 0
			resp.Status = http.StatusRequestedRangeNotSatisfiable
			resp.Header = http.Header{}
			resp.Header.Set("Content-Range", UnsatisfiedRange(size))
			resp.Header.Set("Accept-Ranges", "bytes")
			return resp, nil
		}
		resp.Range = &br
		resp.Status = http.StatusPartialContent
		resp.offset = br.Start
		resp.length = br.Length()
		resp.Header.Set("Content-Range", br.ContentRange(size))
	}
	resp.Header.Set("Content-Length", strconv.FormatInt(resp.length, 10))
	return resp, nil
}

// HasBody reports whether WriteTo will produce any bytes.
func (r *Response) HasBody() bool {
	return r.file != nil && r.length > 0
}

// WriteTo streams the selected bytes to w in chunks, in order, and closes
// the file. A file that shrank while streaming ends the body early without
// an error. Cancelling ctx stops before the next chunk.
func (r *Response) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	defer r.Close()
	if r.file == nil {
		return 0, nil
	}

	bp := r.srv.buffers.Get().(*[]byte)
	defer r.srv.buffers.Put(bp)
	buf := *bp

	var written int64
	off, remaining := r.offset, r.length
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, rerr := r.file.ReadAt(buf[:n], off)
		if read > 0 {
			wn, werr := w.Write(buf[:read])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			off += int64(read)
			remaining -= int64(read)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				logging.WithContext(ctx).Debug("file shrank while streaming",
					zap.String("path", r.logical),
					zap.String("sent", humanize.IBytes(uint64(written))),
					zap.String("expected", humanize.IBytes(uint64(r.length))))
				return written, nil
			}
			return written, mediaerr.Wrap(mediaerr.Internal, "read failed: "+r.logical, rerr)
		}
	}
	return written, nil
}

// Close releases the file. It is safe to call more than once.
func (r *Response) Close() error {
	var err error
	r.once.Do(func() {
		if r.file != nil {
			err = r.file.Close()
		}
	})
	return err
}

func disposition(mode Mode, name string) string {
	if d := mime.FormatMediaType(mode.String(), map[string]string{"filename": name}); d != "" {
		return d
	}
	return mode.String()
}
