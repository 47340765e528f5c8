package release

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const feedSchemaText = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["name", "assets"],
    "properties": {
      "name": {"type": "string"},
      "published_at": {"type": ["string", "null"]},
      "html_url": {"type": ["string", "null"]},
      "assets": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["browser_download_url"],
          "properties": {
            "name": {"type": "string"},
            "browser_download_url": {"type": "string"},
            "size": {"type": "integer", "minimum": 0},
            "digest": {"type": ["string", "null"]}
          }
        }
      }
    }
  }
}`

var feedSchema = jsonschema.MustCompileString("runner-release-feed.json", feedSchemaText)

// parseFeed validates raw against the feed schema and decodes it.
func parseFeed(raw []byte) ([]Release, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	if err := feedSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate feed: %w", err)
	}

	var releases []Release
	if err := json.Unmarshal(raw, &releases); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return releases, nil
}
