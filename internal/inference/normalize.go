package inference

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// FallbackReply is returned only when the backend payload is absent or null.
const FallbackReply = "I'm sorry, I couldn't generate a response."

type extractor func(payload []byte) (string, bool)

// replyExtractors is tried in order; the first populated shape wins.
var replyExtractors = []extractor{
	fieldExtractor("response"),
	fieldExtractor("result"),
	fieldExtractor("output_text"),
	fieldExtractor("message"),
	fieldExtractor("messages"),
	rawPayload,
}

// NormalizeReply reduces any backend payload to reply text.
func NormalizeReply(payload json.RawMessage) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return FallbackReply
	}
	for _, extract := range replyExtractors {
		if reply, ok := extract(trimmed); ok {
			return reply
		}
	}
	return FallbackReply
}

// fieldExtractor matches a top-level field that is present and not null.
// Strings are returned verbatim, other values as their JSON text.
func fieldExtractor(key string) extractor {
	return func(payload []byte) (string, bool) {
		res := gjson.GetBytes(payload, key)
		if !res.Exists() || res.Type == gjson.Null {
			return "", false
		}
		if res.Type == gjson.String {
			return res.String(), true
		}
		return res.Raw, true
	}
}

func rawPayload(payload []byte) (string, bool) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return string(payload), true
	}
	return buf.String(), true
}
