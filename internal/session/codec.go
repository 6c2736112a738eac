package session

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Chunk is one cookie-sized piece of an encoded value.
type Chunk struct {
	Name  string
	Value string
}

// EncodeCookieValue makes a serialized session safe to store as a cookie
// value. The result contains no quotes, commas, semicolons or spaces.
func EncodeCookieValue(serialized string) string {
	return url.PathEscape(serialized)
}

func DecodeCookieValue(value string) (string, error) {
	s, err := url.PathUnescape(value)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return s, nil
}

// Split cuts an encoded cookie value into chunks of at most size bytes.
// A value that fits is returned as a single chunk under the base name;
// otherwise chunks are named <name>.0, <name>.1, ... Percent escapes are
// never split across two chunks.
func Split(name, value string, size int) []Chunk {
	if len(value) <= size {
		return []Chunk{{Name: name, Value: value}}
	}
	size = max(size, len("%XX"))
	var chunks []Chunk
	for start := 0; start < len(value); {
		end := min(start+size, len(value))
		if end < len(value) {
			switch {
			case value[end-1] == '%':
				end--
			case end >= 2 && value[end-2] == '%':
				end -= 2
			}
		}
		chunks = append(chunks, Chunk{
			Name:  ChunkName(name, len(chunks)),
			Value: value[start:end],
		})
		start = end
	}
	return chunks
}

func ChunkName(name string, index int) string {
	return fmt.Sprintf("%s.%d", name, index)
}

// ChunkIndex returns the numeric suffix of cookieName when it is a chunk of
// the base name.
func ChunkIndex(name, cookieName string) (int, bool) {
	suffix, ok := strings.CutPrefix(cookieName, name+".")
	if !ok || suffix == "" {
		return 0, false
	}
	i, err := strconv.Atoi(suffix)
	if err != nil || i < 0 || strconv.Itoa(i) != suffix {
		return 0, false
	}
	return i, true
}

// BelongsTo reports whether cookieName is the base cookie or one of its chunks.
func BelongsTo(name, cookieName string) bool {
	if cookieName == name {
		return true
	}
	_, ok := ChunkIndex(name, cookieName)
	return ok
}

// Join reassembles the encoded value stored under name. An unchunked cookie
// wins over chunks. Chunks are ordered by numeric suffix and must be
// contiguous from zero, otherwise the value is reported as absent.
func Join(name string, cookies []*http.Cookie) (string, bool) {
	chunks := make(map[int]string)
	for _, c := range cookies {
		if c.Name == name {
			return c.Value, true
		}
		if i, ok := ChunkIndex(name, c.Name); ok {
			chunks[i] = c.Value
		}
	}
	if len(chunks) == 0 {
		return "", false
	}
	indexes := make([]int, 0, len(chunks))
	for i := range chunks {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	var b strings.Builder
	for want, i := range indexes {
		if i != want {
			return "", false
		}
		b.WriteString(chunks[i])
	}
	return b.String(), true
}

// BaseName strips a chunk suffix from cookieName.
func BaseName(cookieName string) string {
	i := strings.LastIndexByte(cookieName, '.')
	if i < 0 {
		return cookieName
	}
	if _, ok := ChunkIndex(cookieName[:i], cookieName); ok {
		return cookieName[:i]
	}
	return cookieName
}
