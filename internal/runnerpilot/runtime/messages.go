package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/pkg/jsonmessage"
)

// Message is one decoded line of an image pull or build stream.
type Message struct {
	ID       string
	Status   string
	Progress string
	Stream   string
}

// DecodeMessages reads the engine's JSON message stream and calls fn for
// each message. An error message from the engine ends decoding with that
// error.
func DecodeMessages(r io.Reader, fn func(Message) error) error {
	dec := json.NewDecoder(r)
	for {
		var jm jsonmessage.JSONMessage
		if err := dec.Decode(&jm); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("runtime: decode message stream: %w", err)
		}
		if jm.Error != nil {
			return fmt.Errorf("runtime: %w", jm.Error)
		}
		msg := Message{
			ID:       jm.ID,
			Status:   jm.Status,
			Progress: jm.ProgressMessage,
			Stream:   strings.TrimRight(jm.Stream, "\r\n"),
		}
		if msg.Progress == "" && jm.Progress != nil {
			msg.Progress = jm.Progress.String()
		}
		if msg.Status == "" && msg.Stream == "" && msg.Progress == "" {
			continue
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
