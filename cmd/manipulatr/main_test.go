package main

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderFileToFile(t *testing.T) {
	dir := writeSite(t)
	out := filepath.Join(dir, "out.html")

	if _, err := execute(t, "", "render", "-i", filepath.Join(dir, "page.html"), "-o", out); err != nil {
		t.Fatalf("render: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, `src="data:image/png;base64,`) {
		t.Fatalf("expected swapped data url, got %s", body)
	}
	if !strings.Contains(body, `src="untagged.png"`) {
		t.Fatalf("expected untagged image untouched, got %s", body)
	}
}

func TestRenderStdinToStdout(t *testing.T) {
	dir := writeSite(t)
	page := `<img src="in.png" data-manipulatr-name="grayscale" data-manipulatr-format="png">`

	stdout, err := execute(t, page, "render", "-i", "-", "--base", dir)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(stdout, "data:image/png;base64,") {
		t.Fatalf("expected data url on stdout, got %s", stdout)
	}
}

func TestRenderS3WithoutStorage(t *testing.T) {
	dir := writeSite(t)
	_, err := execute(t, "", "render", "-i", filepath.Join(dir, "page.html"), "-o", "s3://sites/page.html")
	if !errors.Is(err, errStorageDisabled) {
		t.Fatalf("expected errStorageDisabled, got %v", err)
	}
}

func TestRenderWatchNeedsFile(t *testing.T) {
	if _, err := execute(t, "", "render", "-i", "-", "--watch"); err == nil {
		t.Fatal("expected error for --watch on stdin")
	}
}

func TestRenderWatchRejectsOwnOutput(t *testing.T) {
	dir := writeSite(t)
	input := filepath.Join(dir, "page.html")
	before, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}

	for _, output := range []string{input, filepath.Join(dir, ".", "sub", "..", "page.html")} {
		_, err := execute(t, "", "render", "-i", input, "-o", output, "--watch")
		if !errors.Is(err, errWatchOwnOutput) {
			t.Fatalf("output %s: expected errWatchOwnOutput, got %v", output, err)
		}
	}
	after, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("input was overwritten")
	}
}

func TestSamePath(t *testing.T) {
	cases := []struct {
		input, output string
		want          bool
	}{
		{"page.html", "page.html", true},
		{"page.html", "./page.html", true},
		{"page.html", "out.html", false},
		{"page.html", "-", false},
		{"page.html", "s3://sites/page.html", false},
	}
	for _, tc := range cases {
		if got := samePath(tc.input, tc.output); got != tc.want {
			t.Fatalf("samePath(%q, %q) = %v, want %v", tc.input, tc.output, got, tc.want)
		}
	}
}

func TestRenderRequiresInput(t *testing.T) {
	if _, err := execute(t, "", "render"); err == nil {
		t.Fatal("expected error without --input")
	}
}

func TestTransformsCommand(t *testing.T) {
	stdout, err := execute(t, "", "transforms")
	if err != nil {
		t.Fatalf("transforms: %v", err)
	}
	want := "flip\ngrayscale\nrotate\nscale\nwatermark\n"
	if stdout != want {
		t.Fatalf("expected %q, got %q", want, stdout)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MANIPULATR_LOG_LEVEL", "error")

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return stdout.String(), err
}

func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: 40, B: uint8(y * 30), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in.png"), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}

	page := `<html><body>
<img src="in.png" data-manipulatr-name="scale" data-manipulatr-scale-width="8" data-manipulatr-scale-height="4" data-manipulatr-format="png">
<img src="untagged.png">
</body></html>`
	if err := os.WriteFile(filepath.Join(dir, "page.html"), []byte(page), 0o644); err != nil {
		t.Fatalf("write page: %v", err)
	}
	return dir
}
