package syncengine

import (
	"encoding/json"
	"strings"

	"github.com/ondisk/gitddb/internal/serialize"
	"github.com/ondisk/gitddb/internal/types"
)

// isDocPath reports whether p is a document file under either serialization
// (spec.md §6's serialize option: "json" or "front-matter").
func isDocPath(p string) bool {
	return strings.HasSuffix(p, ".json") || strings.HasSuffix(p, ".md")
}

// stripDocExt strips whichever document extension p carries, leaving the id.
func stripDocExt(p string) string {
	if strings.HasSuffix(p, ".json") {
		return strings.TrimSuffix(p, ".json")
	}
	return strings.TrimSuffix(p, ".md")
}

// decodeDocContent decodes content per the extension of path, front-matter
// or plain JSON.
func decodeDocContent(content []byte, path string) types.Document {
	var doc types.Document
	if strings.HasSuffix(path, ".md") {
		doc, _ = serialize.DecodeFrontMatter(content)
		return doc
	}
	_ = json.Unmarshal(content, &doc)
	return doc
}

// decodeDocContentErr is decodeDocContent but reports decode failures
// instead of returning a nil document.
func decodeDocContentErr(content []byte, path string) (types.Document, error) {
	if strings.HasSuffix(path, ".md") {
		return serialize.DecodeFrontMatter(content)
	}
	var doc types.Document
	err := json.Unmarshal(content, &doc)
	return doc, err
}

// encodeDocContent re-encodes doc per the extension of path.
func encodeDocContent(doc types.Document, path string) ([]byte, error) {
	if strings.HasSuffix(path, ".md") {
		return serialize.EncodeFrontMatter(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}
