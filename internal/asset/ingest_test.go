package asset_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/sitecms/internal/asset"
	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/pkg/fs"
)

var (
	pngData  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpgData  = []byte("\xff\xd8\xff\xe0\x00\x10JFIF")
	gifData  = []byte("GIF89a\x01\x00\x01\x00")
	webpData = []byte("RIFF\x24\x00\x00\x00WEBPVP8 ")
	svgData  = []byte(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" viewBox="0 0 10 10">
  <defs><linearGradient id="g"><stop offset="0" stop-color="red"/></linearGradient></defs>
  <rect width="10" height="10" fill="url(#g)"/>
  <use xlink:href="#g"/>
</svg>`)
)

var fixedNow = time.Unix(1_700_000_000, 123)

func newIngestor(t *testing.T, allowed ...string) (*asset.Ingestor, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "uploads")

	ing, err := asset.New(fs.NewReal(), asset.Options{
		Dir:       dir,
		URLPrefix: "/static/uploads/",
		Allowed:   allowed,
		Lock:      true,
		Now:       func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return ing, dir
}

func TestIngestStoresUnderStampedName(t *testing.T) {
	t.Parallel()

	ing, dir := newIngestor(t)
	ctx := context.Background()

	url, err := ing.Ingest(ctx, pngData, "My Photo.PNG")
	require.NoError(t, err)

	want := fmt.Sprintf("My_Photo_%d.png", fixedNow.UnixNano())
	require.Equal(t, "/static/uploads/"+want, url)

	stored, err := os.ReadFile(filepath.Join(dir, want))
	require.NoError(t, err)
	require.Equal(t, pngData, stored)

	info, err := os.Stat(filepath.Join(dir, want))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm(), "the web server has to read it")

	// Same clock reading: the stamp still moves forward.
	url2, err := ing.Ingest(ctx, pngData, "My Photo.png")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("/static/uploads/My_Photo_%d.png", fixedNow.UnixNano()+1), url2)
}

func TestIngestNormalizesExtensions(t *testing.T) {
	t.Parallel()

	ing, _ := newIngestor(t)

	tests := []struct {
		name    string
		data    []byte
		wantExt string
	}{
		{"photo.JPEG", jpgData, ".jpg"},
		{"photo.jpg", jpgData, ".jpg"},
		{"anim.Gif", gifData, ".gif"},
		{"pic.webp", webpData, ".webp"},
		{"logo.svg", svgData, ".svg"},
	}

	for _, tc := range tests {
		url, err := ing.Ingest(context.Background(), tc.data, tc.name)
		require.NoError(t, err, tc.name)
		require.True(t, strings.HasSuffix(url, tc.wantExt), "url %q", url)
	}
}

func TestIngestRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"no extension", pngData, "photo"},
		{"trailing dot", pngData, "photo."},
		{"unknown extension", pngData, "photo.bmp"},
		{"empty payload", nil, "photo.png"},
		{"content mismatch", pngData, "photo.gif"},
		{"not an image", []byte("hello world"), "photo.png"},
		{"svg script", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`), "x.svg"},
		{"svg handler", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect onload="x()"/></svg>`), "x.svg"},
		{"svg style", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect style="fill:red"/></svg>`), "x.svg"},
		{"svg external href", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><use href="http://evil/x.svg#a"/></svg>`), "x.svg"},
		{"svg external url", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><rect fill="url(http://evil/)"/></svg>`), "x.svg"},
		{"svg foreign object", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><foreignObject/></svg>`), "x.svg"},
		{"svg doctype", []byte(`<?xml version="1.0"?><!DOCTYPE svg [<!ENTITY x "y">]><svg/>`), "x.svg"},
		{"svg javascript uri", []byte(`<svg xmlns="http://www.w3.org/2000/svg"><a href="javascript:x()"/></svg>`), "x.svg"},
		{"svg wrong root", []byte(`<?xml version="1.0"?><html><svg/></html>`), "x.svg"},
		{"svg two roots", []byte(`<svg></svg><svg></svg>`), "x.svg"},
		{"svg broken markup", []byte(`<svg><rect></svg>`), "x.svg"},
		{"svg invalid utf8", []byte("<svg>\xff</svg>"), "x.svg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ing, dir := newIngestor(t)

			_, err := ing.Ingest(context.Background(), tc.data, tc.filename)
			require.ErrorIs(t, err, content.ErrUnsupportedAssetType)

			_, statErr := os.Stat(dir)
			require.True(t, os.IsNotExist(statErr), "nothing may be written for a rejected upload")
		})
	}
}

func TestIngestRespectsAllowedSubset(t *testing.T) {
	t.Parallel()

	ing, _ := newIngestor(t, "PNG", ".jpeg")
	require.Equal(t, []string{"png", "jpg"}, ing.Allowed())

	_, err := ing.Ingest(context.Background(), svgData, "logo.svg")
	require.ErrorIs(t, err, content.ErrUnsupportedAssetType)

	_, err = ing.Ingest(context.Background(), jpgData, "photo.jpeg")
	require.NoError(t, err)

	_, err = asset.New(fs.NewReal(), asset.Options{Dir: t.TempDir(), Allowed: []string{"bmp"}})
	require.Error(t, err)
}

func TestIngestNeverOverwrites(t *testing.T) {
	t.Parallel()

	ing, dir := newIngestor(t)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	taken := filepath.Join(dir, fmt.Sprintf("photo_%d.png", fixedNow.UnixNano()))
	require.NoError(t, os.WriteFile(taken, []byte("precious"), 0o644))

	_, err := ing.Ingest(context.Background(), pngData, "photo.png")
	require.ErrorIs(t, err, content.ErrAssetNameCollision)

	got, err := os.ReadFile(taken)
	require.NoError(t, err)
	require.Equal(t, "precious", string(got))
}

func TestIngestNeverOverwritesWithoutLock(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "uploads")

	// Two processes with no shared lock and the same clock reading pick the
	// same name.
	unlocked := func() *asset.Ingestor {
		ing, err := asset.New(fs.NewReal(), asset.Options{
			Dir:       dir,
			URLPrefix: "/static/uploads/",
			Now:       func() time.Time { return fixedNow },
		})
		require.NoError(t, err)

		return ing
	}

	first, second := unlocked(), unlocked()

	url, err := first.Ingest(context.Background(), pngData, "photo.png")
	require.NoError(t, err)

	other := append([]byte{}, pngData...)
	other = append(other, "second upload"...)

	_, err = second.Ingest(context.Background(), other, "photo.png")
	require.ErrorIs(t, err, content.ErrAssetNameCollision)

	got, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/static/uploads/")))
	require.NoError(t, err)
	require.Equal(t, pngData, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file left behind")
}

func TestIngestWriteFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "uploads")
	faults := fs.NewFaults(fs.NewReal())
	faults.Fail(fs.OpLink, syscall.EIO)

	ing, err := asset.New(faults, asset.Options{Dir: dir, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)

	_, err = ing.Ingest(context.Background(), pngData, "photo.png")
	require.ErrorIs(t, err, syscall.EIO)
	require.NotErrorIs(t, err, content.ErrAssetNameCollision)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestIngestConcurrentUploadsGetDistinctNames(t *testing.T) {
	t.Parallel()

	ing, dir := newIngestor(t)

	const uploads = 20

	var wg sync.WaitGroup

	urls := make([]string, uploads)
	errs := make([]error, uploads)

	for i := range uploads {
		wg.Add(1)

		go func() {
			defer wg.Done()

			urls[i], errs[i] = ing.Ingest(context.Background(), gifData, "same name.gif")
		}()
	}

	wg.Wait()

	seen := map[string]bool{}

	for i := range uploads {
		require.NoError(t, errs[i])
		require.False(t, seen[urls[i]], "duplicate url %s", urls[i])
		seen[urls[i]] = true
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, uploads)
}

func TestSanitizeBase(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"My Photo":           "My_Photo",
		"../../etc/passwd":   "passwd",
		`C:\Users\me\pic`:    "pic",
		"..hidden":           "hidden",
		"ünï cödé":           "n_cd",
		"":                   "upload",
		"...":                "upload",
		"a$b%c(d)":           "abcd",
		"keep.dots_and-dash": "keep.dots_and-dash",
	}

	for in, want := range tests {
		require.Equal(t, want, asset.SanitizeBase(in), "input %q", in)
	}

	require.Equal(t, strings.Repeat("x", 100), asset.SanitizeBase(strings.Repeat("x", 150)))
}

func TestDetect(t *testing.T) {
	t.Parallel()

	require.Equal(t, "png", asset.Detect(pngData))
	require.Equal(t, "jpg", asset.Detect(jpgData))
	require.Equal(t, "gif", asset.Detect(gifData))
	require.Equal(t, "webp", asset.Detect(webpData))
	require.Equal(t, "svg", asset.Detect(svgData))
	require.Equal(t, "svg", asset.Detect([]byte("\xef\xbb\xbf  <SVG/>")))
	require.Equal(t, "", asset.Detect([]byte("RIFF\x00\x00\x00\x00WAVE")))
	require.Equal(t, "", asset.Detect(nil))
}
