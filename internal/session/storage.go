package session

import (
	"net/http"
	"sync"

	"github.com/matheuscscp/praise-prison/internal/constants"
)

// Storage is the key/value persistence the backend client keeps its session
// and PKCE verifier in.
type Storage interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string)
	RemoveItem(key string)
}

// CookieStorage persists items as cookies in a CookieStore, chunking values
// that do not fit in one cookie.
type CookieStorage struct {
	Store     CookieStore
	Options   CookieOptions
	ChunkSize int
}

func (s *CookieStorage) chunkSize() int {
	if s.ChunkSize > 0 {
		return s.ChunkSize
	}
	return constants.DefaultCookieChunkSize
}

func (s *CookieStorage) GetItem(key string) (string, bool) {
	raw, ok := Join(key, s.Store.GetAll())
	if !ok {
		return "", false
	}
	v, err := DecodeCookieValue(raw)
	if err != nil {
		// Let the caller's decoder reject it.
		return raw, true
	}
	return v, true
}

// SetItem writes value under key and deletes chunks of a previous, longer
// value so that Join never mixes old and new pieces.
func (s *CookieStorage) SetItem(key, value string) {
	chunks := Split(key, EncodeCookieValue(value), s.chunkSize())
	fresh := make(map[string]struct{}, len(chunks))
	cookies := make([]*http.Cookie, 0, len(chunks))
	for _, c := range chunks {
		fresh[c.Name] = struct{}{}
		cookies = append(cookies, s.Options.Cookie(c.Name, c.Value))
	}
	for _, c := range s.Store.GetAll() {
		if _, ok := fresh[c.Name]; !ok && BelongsTo(key, c.Name) {
			cookies = append(cookies, Expired(c.Name))
		}
	}
	s.Store.SetAll(cookies)
}

func (s *CookieStorage) RemoveItem(key string) {
	ExpireMatching(s.Store, func(name string) bool { return BelongsTo(key, name) })
}

// MemoryStorage keeps items in process memory, for clients that do not
// persist across requests.
type MemoryStorage struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (s *MemoryStorage) GetItem(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *MemoryStorage) SetItem(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

func (s *MemoryStorage) RemoveItem(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}
