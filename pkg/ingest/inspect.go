package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ChunkSize is the read size used when hashing.
const ChunkSize = 256 * 1024

// ErrUnsupported is returned by Inspect for data that is not a known image
// format.
var ErrUnsupported = errors.New("ingest: unsupported media format")

// HashMD5 returns the hex md5 of everything read from r.
func HashMD5(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type formatInfo struct {
	name        string
	description string
	mimetype    string
}

var formats = map[string]formatInfo{
	"jpeg": {"JPEG", "JPEG (ISO 10918)", "image/jpeg"},
	"png":  {"PNG", "Portable network graphics", "image/png"},
	"gif":  {"GIF", "Compuserve GIF", "image/gif"},
	"bmp":  {"BMP", "Windows Bitmap", "image/bmp"},
	"tiff": {"TIFF", "Adobe TIFF", "image/tiff"},
	"webp": {"WEBP", "WebP image", "image/webp"},
}

// Inspect reads the image header from r and returns the metadata fields
// describing it: format, format_description, mimetype, width, height and
// size ([width, height]).
func Inspect(r io.Reader) (map[string]any, error) {
	cfg, name, err := image.DecodeConfig(r)
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupported
		}
		return nil, fmt.Errorf("ingest: decode header: %w", err)
	}
	info, ok := formats[name]
	if !ok {
		info = formatInfo{name: strings.ToUpper(name), mimetype: "image/" + name}
	}
	return map[string]any{
		"format":             info.name,
		"format_description": info.description,
		"mimetype":           info.mimetype,
		"width":              cfg.Width,
		"height":             cfg.Height,
		"size":               []any{cfg.Width, cfg.Height},
	}, nil
}
