package pdf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"pdf-page-translator/internal/logger"
)

// Assembler merges rendered page documents into the final output.
type Assembler struct {
	conf *model.Configuration
}

// NewAssembler creates an Assembler with pdfcpu's default configuration.
func NewAssembler() *Assembler {
	return &Assembler{conf: model.NewDefaultConfiguration()}
}

// Assemble concatenates inputs, in the given order, into outputPath.
// Every input is validated first; on failure outputPath is left untouched.
func (a *Assembler) Assemble(inputs []string, outputPath string) error {
	if len(inputs) == 0 {
		return NewPDFError(ErrAssembleFailed, "no pages to assemble", nil)
	}

	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return NewPDFErrorWithDetails(ErrAssembleFailed, "rendered page missing", in, err)
		}
		if err := api.ValidateFile(in, a.conf); err != nil {
			return NewPDFErrorWithDetails(ErrAssembleFailed, "rendered page is not a valid document", in, err)
		}
	}

	logger.Info("merging pages",
		logger.Int("count", len(inputs)),
		logger.String("output", filepath.Base(outputPath)))

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return NewPDFErrorWithDetails(ErrAssembleFailed, "cannot create output directory", dir, err)
	}

	// pdfcpu writes straight to its destination, so merge next to the
	// output and move into place once complete.
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.tmp", filepath.Base(outputPath), os.Getpid()))
	if err := api.MergeCreateFile(inputs, tmp, false, a.conf); err != nil {
		os.Remove(tmp)
		return NewPDFError(ErrAssembleFailed, "failed to merge pages", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		os.Remove(tmp)
		return NewPDFErrorWithDetails(ErrAssembleFailed, "failed to write output", outputPath, err)
	}

	logger.Info("pages merged", logger.String("output", outputPath))
	return nil
}

// PageCount returns the number of pages of the document at path.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, NewPDFErrorWithDetails(ErrPDFInvalid, "cannot count pages", path, err)
	}
	return n, nil
}
