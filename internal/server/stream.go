package server

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// segmentHeaders are the upstream response headers a player may rely on.
// Everything else, hop-by-hop headers included, stays behind.
var segmentHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
}

func copySegmentHeaders(dst, src http.Header) {
	for _, key := range segmentHeaders {
		for _, v := range src.Values(key) {
			dst.Add(key, v)
		}
	}
}

// streamBody copies src to w in fixed-size chunks, flushing after each so
// the player starts receiving bytes before the segment is complete. A read
// from src that takes longer than idle calls stall, which must make the
// pending Read return. Writes to w get the same deadline where the
// connection supports one.
func streamBody(w http.ResponseWriter, src io.Reader, idle time.Duration, stall func()) (written int64, err error) {
	rc := http.NewResponseController(w)
	defer func() { _ = rc.SetWriteDeadline(time.Time{}) }()

	timer := time.AfterFunc(idle, stall)
	defer timer.Stop()

	buf := make([]byte, 32*1024)
	for {
		nr, rerr := src.Read(buf)
		timer.Stop()
		if nr > 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(idle))
			nw, werr := w.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return written, ferr
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				rerr = nil
			}
			return written, rerr
		}
		timer.Reset(idle)
	}
}
