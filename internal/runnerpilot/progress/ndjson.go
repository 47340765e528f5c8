package progress

import (
	"encoding/json"
	"io"
	"net/http"
)

// ContentType is the media type of an encoded stream.
const ContentType = "application/x-ndjson"

// WriteNDJSON encodes each event of s as one JSON line on w, flushing after
// every line when w supports it. A write error (consumer gone) closes the
// stream, which cancels the producing operation.
func WriteNDJSON(w io.Writer, s *Stream) error {
	defer s.Close()

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	for ev := range s.Events() {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

// ServeNDJSON writes the stream as an HTTP response. Headers are sent
// before the first event so errors after this point travel in-band.
func ServeNDJSON(w http.ResponseWriter, s *Stream) error {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	return WriteNDJSON(w, s)
}
