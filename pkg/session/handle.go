package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/menta2k/webp-converter/pkg/types"
)

// Handle is the caller visible reference to one encoded output. A session
// keeps exactly one handle live; superseded handles are released and drop
// their bytes.
type Handle struct {
	ID   string
	Name string
	Seq  uint64

	mu       sync.RWMutex
	image    *types.EncodedImage
	released bool
}

func newHandle(seq uint64, name string, img *types.EncodedImage) *Handle {
	return &Handle{
		ID:    uuid.NewString(),
		Name:  name,
		Seq:   seq,
		image: img,
	}
}

// Bytes returns the encoded output, or nil once the handle was released
func (h *Handle) Bytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.image == nil {
		return nil
	}
	return h.image.Data
}

// Size returns the encoded byte length, or 0 once released
func (h *Handle) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.image == nil {
		return 0
	}
	return h.image.Size
}

// MimeType returns the content type of the encoded output
func (h *Handle) MimeType() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.image == nil {
		return ""
	}
	return h.image.MimeType
}

// Dimensions returns the pixel size of the encoded output
func (h *Handle) Dimensions() types.Dimensions {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.image == nil {
		return types.Dimensions{}
	}
	return types.Dimensions{Width: h.image.Width, Height: h.image.Height}
}

// Released reports whether the handle was superseded or reset
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

func (h *Handle) release() {
	h.mu.Lock()
	h.image = nil
	h.released = true
	h.mu.Unlock()
}
