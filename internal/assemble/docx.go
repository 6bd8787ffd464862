package assemble

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/fumiama/go-docx"
)

// writeDOCX writes an A4 document holding one inline picture per paragraph,
// in input order. Every picture spans the content width.
func (a *Assembler) writeDOCX(ctx context.Context, paths []string, outPath string) error {
	doc := docx.New().WithDefaultTheme()
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("docx assembly canceled: %w", err)
		}
		data, cfg, err := readDocxImage(p)
		if err != nil {
			return err
		}
		run, err := doc.AddParagraph().AddInlineDrawing(data)
		if err != nil {
			return fmt.Errorf("embed %s: %w", filepath.Base(p), err)
		}
		for _, child := range run.Children {
			if d, ok := child.(*docx.Drawing); ok && d.Inline != nil {
				d.Inline.Size(docx.A4_EMU_MAX_WIDTH, docx.A4_EMU_MAX_WIDTH*int64(cfg.Height)/int64(cfg.Width))
			}
		}
	}

	doc.WithA4Page()

	f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create docx: %w", err)
	}
	if _, err := doc.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write docx: %w", err)
	}
	return f.Close()
}

// readDocxImage loads one slice. PNG and JPEG are embedded as-is; anything
// else is re-encoded as PNG.
func readDocxImage(path string) ([]byte, image.Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- slice written by this run.
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("read image: %w", err)
	}
	cfg, kind, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, image.Config{}, fmt.Errorf("image %s has no area", filepath.Base(path))
	}
	if kind == "png" || kind == "jpeg" {
		return raw, cfg, nil
	}
	img, _, err := loadImage(path)
	if err != nil {
		return nil, image.Config{}, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, image.Config{}, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
	}
	return buf.Bytes(), cfg, nil
}
