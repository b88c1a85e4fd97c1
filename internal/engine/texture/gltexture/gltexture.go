// Package gltexture uploads decoded tiles as OpenGL textures.
package gltexture

import (
	"errors"
	"image"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/tilestream/internal/engine/texture"
)

// ErrUploadFailed is returned when the driver did not hand out a texture name.
var ErrUploadFailed = errors.New("texture upload failed")

// Uploader creates OpenGL 2D textures. It must be used on the thread that owns the GL context.
type Uploader struct {
	// Mipmaps enables mipmap generation and trilinear filtering.
	Mipmaps bool
}

// Upload creates a texture from img.
func (u Uploader) Upload(img image.Image) (texture.Handle, error) {
	rgba := texture.ToRGBA(img)
	if len(rgba.Pix) == 0 {
		return 0, texture.ErrEmptyImage
	}

	var texID uint32
	gl.GenTextures(1, &texID)
	if texID == 0 {
		return 0, ErrUploadFailed
	}
	gl.BindTexture(gl.TEXTURE_2D, texID)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA, int32(rgba.Rect.Dx()), int32(rgba.Rect.Dy()), 0,
		gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(rgba.Pix))
	if u.Mipmaps {
		gl.GenerateMipmap(gl.TEXTURE_2D)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR_MIPMAP_LINEAR)
	} else {
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	}
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	// Clamp so ancestor sub-rectangles never bleed across the tile edge.
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	return texture.Handle(texID), nil
}

// Free deletes the texture.
func (Uploader) Free(h texture.Handle) {
	if h == 0 {
		return
	}
	id := uint32(h)
	gl.DeleteTextures(1, &id)
}
