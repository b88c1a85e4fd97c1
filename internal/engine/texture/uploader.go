package texture

import (
	"image"
	"sync"
)

// Handle identifies an uploaded texture. Zero is never a valid handle.
type Handle uint32

// Uploader moves decoded images to wherever textures live.
// Implementations backed by a GPU must be called from the thread that owns the context.
type Uploader interface {
	Upload(img image.Image) (Handle, error)
	Free(h Handle)
}

// MemoryUploader keeps images in memory. It is used by tools and tests that run
// without a GL context.
type MemoryUploader struct {
	mu     sync.Mutex
	next   Handle
	images map[Handle]*image.RGBA
	freed  int
}

// NewMemoryUploader creates an empty MemoryUploader.
func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{images: make(map[Handle]*image.RGBA)}
}

// Upload stores a copy of img.
func (u *MemoryUploader) Upload(img image.Image) (Handle, error) {
	rgba := ToRGBA(img)
	if len(rgba.Pix) == 0 {
		return 0, ErrEmptyImage
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.next++
	u.images[u.next] = rgba
	return u.next, nil
}

// Free drops the image.
func (u *MemoryUploader) Free(h Handle) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.images[h]; ok {
		delete(u.images, h)
		u.freed++
	}
}

// Image returns the stored image for h.
func (u *MemoryUploader) Image(h Handle) (*image.RGBA, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	img, ok := u.images[h]
	return img, ok
}

// Live returns the number of textures not yet freed.
func (u *MemoryUploader) Live() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.images)
}

// Freed returns the number of textures freed so far.
func (u *MemoryUploader) Freed() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.freed
}
