package media

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/robertarktes/campus-marketplace/internal/domain"
)

const (
	MaxDimension  = 1024
	JPEGQuality   = 85
	MaxUploadSize = 5 << 20

	URLPrefix = "/uploads/"
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Process sniffs the upload, downscales it to fit MaxDimension and re-encodes it as JPEG.
func Process(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	if len(data) > MaxUploadSize {
		return nil, domain.Wrap(domain.ErrInvalidInput, "image is larger than 5MB")
	}
	if !allowedMIME[http.DetectContentType(data)] {
		return nil, domain.Wrap(domain.ErrInvalidInput, "only JPEG and PNG images are accepted")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Wrap(domain.ErrInvalidInput, "image could not be decoded")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fit(img, MaxDimension), &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// fit scales img down so neither side exceeds limit, keeping the aspect ratio.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}
	nw, nh := limit, limit
	if w > h {
		nh = h * limit / w
	} else {
		nw = w * limit / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// DiskStore keeps processed images in a directory served under URLPrefix.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %s", dir)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Dir() string {
	return s.dir
}

// Save processes the image and returns its public URL.
func (s *DiskStore) Save(r io.Reader) (string, error) {
	data, err := Process(r)
	if err != nil {
		return "", err
	}
	name := uuid.NewString() + ".jpg"

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "write image")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close image")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", errors.Wrap(err, "store image")
	}
	return URLPrefix + name, nil
}
