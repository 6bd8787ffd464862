package assemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// writePDF normalizes every image to an opaque JPEG and imports them, one
// page per image, into a new PDF at outPath.
func (a *Assembler) writePDF(ctx context.Context, paths []string, outPath string) error {
	work, err := os.MkdirTemp("", "screencrawl-pdf-")
	if err != nil {
		return fmt.Errorf("create pdf work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	pages := make([]string, 0, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pdf assembly canceled: %w", err)
		}
		img, kind, err := loadImage(p)
		if err != nil {
			return err
		}
		page := filepath.Join(work, fmt.Sprintf("page_%05d.jpg", i+1))
		if err := writeJPEG(page, img); err != nil {
			return fmt.Errorf("convert %s: %w", filepath.Base(p), err)
		}
		a.logger.Debug("pdf page prepared", zap.String("source", p), zap.String("decoded_as", kind))
		pages = append(pages, page)
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ImportImagesFile(pages, outPath, pdfcpu.DefaultImportConfig(), conf); err != nil {
		return fmt.Errorf("pdfcpu import: %w", err)
	}
	return nil
}

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	return n, nil
}
