package attachment

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	path := filepath.Join(t.TempDir(), "pic.png")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()
	if err := png.Encode(fh, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeImage(t *testing.T) {
	path := writePNG(t, 32, 18)
	kind, err := KindOf(path)
	if err != nil {
		t.Fatal(err)
	}
	if kind != KindImage {
		t.Errorf("KindOf = %q, want image", kind)
	}
	w, h, ok := Prober{}.Probe(context.Background(), path)
	if !ok || w != 32 || h != 18 {
		t.Errorf("Probe = %d, %d, %v, want 32, 18, true", w, h, ok)
	}
}

func TestProbePlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello there"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := (Prober{}).Probe(context.Background(), path); ok {
		t.Error("Probe should not report dimensions for text")
	}
}
