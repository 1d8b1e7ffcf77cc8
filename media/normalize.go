package media

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/google/uuid"
)

const maxBaseName = 50

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

// normalized is an asset ready for upload.
type normalized struct {
	data        []byte
	ext         string
	contentType string
	format      string
}

// normalize re-encodes decodable images. JPEG and PNG keep their format,
// GIF is passed through to preserve animation, and every other decodable
// format becomes JPEG. Undecodable payloads are uploaded unchanged.
func normalize(in download, sourceURL string, quality int) normalized {
	img, format, err := image.Decode(bytes.NewReader(in.data))
	if err != nil {
		return passthrough(in, sourceURL, "")
	}

	switch format {
	case "gif":
		return normalized{data: in.data, ext: ".gif", contentType: "image/gif", format: format}
	case "png":
		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err == nil {
			return normalized{data: buf.Bytes(), ext: ".png", contentType: "image/png", format: format}
		}
		return passthrough(in, sourceURL, format)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return passthrough(in, sourceURL, format)
	}
	return normalized{data: buf.Bytes(), ext: ".jpg", contentType: "image/jpeg", format: format}
}

// flatten draws img over white so transparent pixels do not turn black in JPEG.
func flatten(img image.Image) image.Image {
	if _, ok := img.(*image.YCbCr); ok {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}

func passthrough(in download, sourceURL, format string) normalized {
	ext := strings.ToLower(path.Ext(urlPath(sourceURL)))
	contentType := in.contentType
	if contentType == "" && ext != "" {
		contentType = mime.TypeByExtension(ext)
	}
	if ext == "" && contentType != "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	if ext == "" {
		ext = ".bin"
	}
	return normalized{data: in.data, ext: ext, contentType: contentType, format: format}
}

// uniqueFilename builds <prefix>-<basename>-<8 hex chars><ext>.
func uniqueFilename(prefix, sourceURL, ext string) string {
	base := strings.TrimSuffix(path.Base(urlPath(sourceURL)), path.Ext(urlPath(sourceURL)))
	base = strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(base), "-"), "-")
	if len(base) > maxBaseName {
		base = strings.Trim(base[:maxBaseName], "-")
	}
	if base == "" || base == "." {
		base = "image"
	}

	parts := []string{}
	if p := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(prefix), "-"), "-"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, base, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return strings.Join(parts, "-") + ext
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if p, err := url.PathUnescape(u.Path); err == nil {
		return p
	}
	return u.Path
}
