package image

import (
	"io/fs"
	"path"
	"strings"

	"github.com/wippyai/wasm-kernel/errors"
)

// SidecarExt is the extension of manifest files stored beside images.
const SidecarExt = ".manifest"

// Image is an immutable module binary.
type Image struct {
	name    string
	data    []byte
	sidecar []byte
}

// New copies data into a new image.
func New(name string, data []byte) *Image {
	return &Image{
		name: name,
		data: append([]byte(nil), data...),
	}
}

// WithManifest returns a copy of the image carrying a sidecar manifest.
func (i *Image) WithManifest(text []byte) *Image {
	return &Image{
		name:    i.name,
		data:    i.data,
		sidecar: append([]byte{}, text...),
	}
}

// Name returns the image name.
func (i *Image) Name() string {
	return i.name
}

// Bytes returns a copy of the binary.
func (i *Image) Bytes() []byte {
	return append([]byte(nil), i.data...)
}

// Size returns the binary length.
func (i *Image) Size() int {
	return len(i.data)
}

// Sidecar returns a copy of the sidecar manifest, if any.
func (i *Image) Sidecar() ([]byte, bool) {
	if i.sidecar == nil {
		return nil, false
	}
	return append([]byte{}, i.sidecar...), true
}

// SidecarPath returns where the manifest for the image at p lives:
// "drivers/pulse.wasm" maps to "drivers/pulse.manifest".
func SidecarPath(p string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + SidecarExt
}

// Open reads an image and its optional sidecar manifest from fsys.
func Open(fsys fs.FS, name string) (*Image, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "read image "+name)
	}

	img := New(strings.TrimSuffix(path.Base(name), path.Ext(name)), data)

	text, err := fs.ReadFile(fsys, SidecarPath(name))
	switch {
	case err == nil:
		return img.WithManifest(text), nil
	case errors.Is(err, fs.ErrNotExist):
		return img, nil
	default:
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "read manifest for "+name)
	}
}
