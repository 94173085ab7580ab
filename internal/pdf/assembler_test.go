package pdf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdf-page-translator/internal/pdf/pdftest"
)

func TestAssemble_PageCountIsSum(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		filepath.Join(dir, "translated_page_1.pdf"),
		filepath.Join(dir, "translated_page_2.pdf"),
		filepath.Join(dir, "translated_page_3.pdf"),
	}
	docs := [][]string{{"one"}, {"two", "two continued"}, {"three"}}
	for i, in := range inputs {
		if err := pdftest.Write(in, docs[i]); err != nil {
			t.Fatal(err)
		}
	}

	out := filepath.Join(dir, "out", "final.pdf")
	if err := NewAssembler().Assemble(inputs, out); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	n, err := PageCount(out)
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if n != 4 {
		t.Errorf("page count = %d, want 4", n)
	}

	ex, err := NewExtractor(out)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	defer ex.Close()
	got, err := ex.PageText(2)
	if err != nil {
		t.Fatal(err)
	}
	if want := "two continued"; strings.TrimSpace(got) != want {
		t.Errorf("page 3 text = %q, want %q", got, want)
	}
}

func TestAssemble_Empty(t *testing.T) {
	err := NewAssembler().Assemble(nil, filepath.Join(t.TempDir(), "final.pdf"))
	if CodeOf(err) != ErrAssembleFailed || !IsAssemblyError(err) {
		t.Errorf("error = %v, want %s", err, ErrAssembleFailed)
	}
}

func TestAssemble_InvalidInputLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pdf")
	if err := pdftest.Write(good, []string{"ok"}); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(bad, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "final.pdf")

	err := NewAssembler().Assemble([]string{good, bad}, out)
	if !IsAssemblyError(err) {
		t.Fatalf("error = %v, want assembly error", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("output should not exist after a failed merge")
	}
}

func TestAssemble_MissingInput(t *testing.T) {
	dir := t.TempDir()
	err := NewAssembler().Assemble([]string{filepath.Join(dir, "nope.pdf")}, filepath.Join(dir, "final.pdf"))
	if !IsAssemblyError(err) {
		t.Errorf("error = %v, want assembly error", err)
	}
}
