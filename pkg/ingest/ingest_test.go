package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"github.com/haivivi/mediamgr/pkg/docstore"
	"github.com/haivivi/mediamgr/pkg/ingest"
	"github.com/haivivi/mediamgr/pkg/kv"
	"github.com/haivivi/mediamgr/pkg/mediamgr"
	"github.com/haivivi/mediamgr/pkg/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestManager(t *testing.T) *mediamgr.Manager {
	t.Helper()
	s, err := docstore.Open(kv.NewMemory(nil), "mediamgr")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	m := mediamgr.New(s, mediamgr.WithLogger(quiet))
	if err := m.Provision(context.Background()); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	return m
}

func newSource(t *testing.T) *storage.Local {
	t.Helper()
	s, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeBMP(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func put(t *testing.T, s storage.FileStore, p string, data []byte) {
	t.Helper()
	w, err := s.Write(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func md5Of(t *testing.T, data []byte) string {
	t.Helper()
	sum, err := ingest.HashMD5(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return sum
}

func TestHashMD5(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"abc", "900150983cd24fb0d6963f7d28e17f72"},
	}
	for _, tt := range tests {
		got, err := ingest.HashMD5(strings.NewReader(tt.in))
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("HashMD5(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	// Larger than one chunk.
	big := bytes.Repeat([]byte("x"), ingest.ChunkSize*2+17)
	a := md5Of(t, big)
	b := md5Of(t, append(big[:len(big)-1:len(big)-1], 'y'))
	if a == b {
		t.Fatal("digest ignores trailing bytes")
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		format   string
		mimetype string
		w, h     int
	}{
		{"png", encodePNG(t, 3, 2, color.White), "PNG", "image/png", 3, 2},
		{"bmp", encodeBMP(t, 5, 4), "BMP", "image/bmp", 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := ingest.Inspect(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatal(err)
			}
			if md["format"] != tt.format || md["mimetype"] != tt.mimetype {
				t.Errorf("format = %v %v", md["format"], md["mimetype"])
			}
			if md["width"] != tt.w || md["height"] != tt.h {
				t.Errorf("dimensions = %vx%v, want %dx%d", md["width"], md["height"], tt.w, tt.h)
			}
			if got := fmt.Sprint(md["size"]); got != fmt.Sprint([]int{tt.w, tt.h}) {
				t.Errorf("size = %s", got)
			}
		})
	}

	if _, err := ingest.Inspect(strings.NewReader("not an image")); !errors.Is(err, ingest.ErrUnsupported) {
		t.Fatalf("Inspect(text) err = %v, want ErrUnsupported", err)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	src := newSource(t)

	red := encodePNG(t, 4, 3, color.RGBA{R: 255, A: 255})
	blue := encodePNG(t, 2, 2, color.RGBA{B: 255, A: 255})
	put(t, src, "a/red.png", red)
	put(t, src, "b/blue.png", blue)
	put(t, src, "c/red-copy.png", red)
	put(t, src, "notes.txt", []byte("hello"))

	report, err := ingest.New(m, src, ingest.WithLogger(quiet), ingest.WithConcurrency(1)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Fatalf("report: %v", err)
	}

	want := []struct {
		path   string
		status ingest.Status
	}{
		{"a/red.png", ingest.StatusAdded},
		{"b/blue.png", ingest.StatusAdded},
		{"c/red-copy.png", ingest.StatusExisting},
		{"notes.txt", ingest.StatusUnsupported},
	}
	if len(report.Results) != len(want) {
		t.Fatalf("results = %+v", report.Results)
	}
	for i, w := range want {
		got := report.Results[i]
		if got.Path != w.path || got.Status != w.status {
			t.Errorf("result %d = %s %s, want %s %s", i, got.Path, got.Status, w.path, w.status)
		}
	}

	redKey := md5Of(t, red)
	if report.Results[0].Key != redKey || report.Results[2].Key != redKey {
		t.Fatalf("keys = %s %s, want %s", report.Results[0].Key, report.Results[2].Key, redKey)
	}
	if report.Results[0].ID != "media/"+redKey {
		t.Fatalf("id = %s", report.Results[0].ID)
	}
	if got, want := report.Bytes(ingest.StatusAdded), int64(len(red)+len(blue)); got != want {
		t.Errorf("added bytes = %d, want %d", got, want)
	}

	md, err := m.LoadMedia(ctx, redKey)
	if err != nil {
		t.Fatalf("LoadMedia: %v", err)
	}
	meta, ok := md.Get("metadata").(map[string]any)
	if !ok {
		t.Fatalf("metadata = %T", md.Get("metadata"))
	}
	for field, want := range map[string]string{
		"format":   "PNG",
		"mimetype": "image/png",
		"hash_md5": redKey,
		"filename": "a/red.png",
		"width":    "4",
		"height":   "3",
		"size":     "[4 3]",
		"bytes":    fmt.Sprint(len(red)),
	} {
		if got := fmt.Sprint(meta[field]); got != want {
			t.Errorf("metadata[%s] = %s, want %s", field, got, want)
		}
	}

	// A second run registers nothing new.
	report, err = ingest.New(m, src, ingest.WithLogger(quiet)).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n := report.Count(ingest.StatusAdded); n != 0 {
		t.Fatalf("second run added %d", n)
	}
	if n := report.Count(ingest.StatusExisting); n != 3 {
		t.Fatalf("second run existing = %d, want 3", n)
	}
}

func TestRunConcurrentDuplicates(t *testing.T) {
	m := newTestManager(t)
	src := newSource(t)
	img := encodePNG(t, 2, 2, color.Black)
	for i := range 8 {
		put(t, src, fmt.Sprintf("dup%d.png", i), img)
	}

	report, err := ingest.New(m, src, ingest.WithLogger(quiet), ingest.WithConcurrency(4)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
	if n := report.Count(ingest.StatusAdded); n != 1 {
		t.Fatalf("added = %d, want 1", n)
	}
	if n := report.Count(ingest.StatusExisting); n != 7 {
		t.Fatalf("existing = %d, want 7", n)
	}
}

func TestRunPrefix(t *testing.T) {
	m := newTestManager(t)
	src := newSource(t)
	put(t, src, "keep/a.png", encodePNG(t, 1, 1, color.White))
	put(t, src, "skip/b.png", encodePNG(t, 1, 2, color.White))

	report, err := ingest.New(m, src, ingest.WithLogger(quiet), ingest.WithPrefix("keep/")).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Results) != 1 || report.Results[0].Path != "keep/a.png" {
		t.Fatalf("results = %+v", report.Results)
	}
}

func TestRunLibraryMove(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	src := newSource(t)
	lib := newSource(t)

	img := encodePNG(t, 2, 3, color.White)
	put(t, src, "inbox/Photo.PNG", img)
	key := md5Of(t, img)

	report, err := ingest.New(m, src, ingest.WithLogger(quiet), ingest.WithLibrary(lib, true)).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}

	if ok, _ := src.Exists(ctx, "inbox/Photo.PNG"); ok {
		t.Error("source still present after move")
	}
	r, err := lib.Read(ctx, key+".png")
	if err != nil {
		t.Fatalf("library copy: %v", err)
	}
	got, _ := io.ReadAll(r)
	r.Close()
	if !bytes.Equal(got, img) {
		t.Error("library copy differs from source")
	}

	md, err := m.LoadMedia(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if lp := md.Get("metadata").(map[string]any)["library_path"]; lp != key+".png" {
		t.Errorf("library_path = %v", lp)
	}
}

func TestFileMissing(t *testing.T) {
	m := newTestManager(t)
	src := newSource(t)

	res := ingest.New(m, src, ingest.WithLogger(quiet)).File(context.Background(), "gone.png")
	if res.Status != ingest.StatusFailed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
}
