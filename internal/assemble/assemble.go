// Package assemble merges viewport slices into a single PDF or DOCX
// document.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register the PNG decoder
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register the WebP decoder

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

// ErrNoImages is returned when there is nothing to assemble.
var ErrNoImages = errors.New("no images to assemble")

const jpegQuality = 90

// Assembler implements crawler.Assembler.
type Assembler struct {
	logger *zap.Logger
}

// New returns an Assembler.
func New(logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{logger: logger}
}

// Assemble writes paths, in order, into one document at outPath and returns
// the path written. On success the input images and any directory they
// leave empty are removed; on failure everything is left in place.
func (a *Assembler) Assemble(ctx context.Context, paths []string, format crawler.Format, outPath string) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoImages
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	partial := filepath.Join(filepath.Dir(outPath), ".partial-"+filepath.Base(outPath))
	_ = os.Remove(partial)

	var err error
	switch format {
	case crawler.FormatPDF:
		err = a.writePDF(ctx, paths, partial)
	case crawler.FormatDOCX:
		err = a.writeDOCX(ctx, paths, partial)
	default:
		err = fmt.Errorf("%w: cannot assemble %q", crawler.ErrUnsupportedFormat, format)
	}
	if err != nil {
		_ = os.Remove(partial)
		return "", err
	}
	if err := os.Rename(partial, outPath); err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("finalize document: %w", err)
	}
	a.cleanup(paths)
	a.logger.Debug("document written", zap.String("path", outPath), zap.Int("images", len(paths)))
	return outPath, nil
}

// cleanup removes the assembled slices and then their directories, which
// only succeeds for directories left empty.
func (a *Assembler) cleanup(paths []string) {
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to remove slice", zap.String("path", p), zap.Error(err))
		}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		_ = os.Remove(dir)
	}
}

// loadImage decodes a PNG, JPEG or WebP file.
func loadImage(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()
	img, kind, err := image.Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, kind, nil
}

// toRGBA flattens img onto an opaque white canvas.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, toRGBA(img), &jpeg.Options{Quality: jpegQuality}); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
