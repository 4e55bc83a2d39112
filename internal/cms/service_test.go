package cms_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/calvinalkan/sitecms/internal/article"
	"github.com/calvinalkan/sitecms/internal/cms"
	"github.com/calvinalkan/sitecms/internal/content"
)

const projectOne = `    {
        'id': 1,
        'title': 'Site Engine',
        'description': 'Content engine for this site',
        'technologies': ['Go', 'Python'],
        'category': 'Web',
        'github': 'https://github.com/example/site',
        'demo': None,
        'image': '/static/images/site.png',
        'featured': True
    }`

const seedDocument = `from flask import Flask

app = Flask(__name__)

# Showcased work, newest last.
PROJECTS = [
` + projectOne + `,
    {
        'id': 2,
        'title': 'Bob\'s Project',
        'description': 'A "quoted" [bracketed] thing',
        'technologies': [],
        'category': 'Tools',
        'github': None,
        'demo': None,
        'image': '',
        'featured': False
    }
]

PRODUCTS = []

RASPBERRY_PI_PROJECTS = [
    {
        'id': 5,
        'title': 'Weather Station',
        'description': 'Sensors on the roof',
        'hardware': ['Pi Zero', 'BME280'],
        'technologies': ['Python'],
        'features': ['Logs every minute'],
        'github': None,
        'image': ''
    }
]


@app.route('/')
def index():
    return 'ok'
`

var pngPayload = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type harness struct {
	svc  *cms.Service
	cfg  cms.Config
	logs *observer.ObservedLogs
}

func newHarness(t *testing.T, configJSON string) *harness {
	t.Helper()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "app.py"), seedDocument)

	if configJSON != "" {
		writeFile(t, filepath.Join(dir, cms.ConfigFileName), configJSON)
	}

	cfg, err := cms.LoadConfig(cms.LoadConfigInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)

	svc, err := cms.New(cfg, reg, zap.New(core), cms.Options{
		Now: func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	return &harness{svc: svc, cfg: cfg, logs: logs}
}

func (h *harness) document(t *testing.T) string {
	t.Helper()

	data, err := os.ReadFile(h.cfg.DocumentAbs)
	require.NoError(t, err)

	return string(data)
}

func ids(t *testing.T, recs []content.Record) []int64 {
	t.Helper()

	out := make([]int64, len(recs))

	for i, r := range recs {
		id, ok := r["id"].(int64)
		require.True(t, ok, "id of %v", r)

		out[i] = id
	}

	return out
}

func TestCreateRecordAllocatesNextID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	rec, err := h.svc.CreateRecord(ctx, content.KindProject, content.Record{
		"title":        "New Thing",
		"description":  "Fresh",
		"technologies": []any{"Go"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), rec["id"])

	doc := h.document(t)
	require.Contains(t, doc, projectOne+",\n", "existing records keep their bytes")
	require.True(t, strings.HasPrefix(doc, "from flask import Flask\n"))
	require.True(t, strings.HasSuffix(doc, "    return 'ok'\n"))

	list, err := h.svc.Repository().List(ctx, content.KindProject)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids(t, list))

	got, err := h.svc.Repository().Get(ctx, content.KindProject, "3")
	require.NoError(t, err)
	require.Equal(t, "New Thing", got["title"])
	require.Nil(t, got["github"])

	entries := h.logs.FilterMessage("record created").All()
	require.Len(t, entries, 1)
	require.Equal(t, "project", entries[0].ContextMap()["kind"])
	require.Equal(t, h.cfg.DocumentAbs, entries[0].ContextMap()["path"])
}

func TestCreateRecordIntoEmptyCollection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.CreateRecord(ctx, content.KindProduct, content.Record{
		"name":        "Starter Kit",
		"description": "Everything to begin",
		"price":       19.5,
		"features":    []string{"Case", "Cable"},
	})
	require.NoError(t, err)

	got, err := h.svc.Repository().Get(ctx, content.KindProduct, "1")
	require.NoError(t, err)
	require.InDelta(t, 19.5, got["price"], 0)
	require.Equal(t, []string{"Case", "Cable"}, got["features"])

	results, err := h.svc.Check(ctx)
	require.NoError(t, err)
	require.Len(t, results, 4)
}

func TestCreateRecordExplicitDuplicateIDWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	before := h.document(t)

	_, err := h.svc.CreateRecord(context.Background(), content.KindRPi, content.Record{
		"id":          5,
		"title":       "Clash",
		"description": "Same id",
	})
	require.ErrorIs(t, err, content.ErrDuplicateID)
	require.Equal(t, before, h.document(t))

	warns := h.logs.FilterMessage("create failed").All()
	require.Len(t, warns, 1)
	require.Equal(t, zapcore.WarnLevel, warns[0].Level)
}

func TestCreateRecordSchemaViolationWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	before := h.document(t)

	_, err := h.svc.CreateRecord(context.Background(), content.KindProject, content.Record{
		"title":       "No description",
		"description": "",
	})

	var fieldErr *content.FieldError

	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "description", fieldErr.Field)
	require.Equal(t, before, h.document(t))

	_, err = h.svc.CreateRecord(context.Background(), content.KindProject, content.Record{
		"title":       "Body on a catalog kind",
		"description": "x",
		"body":        "not here",
	})
	require.ErrorIs(t, err, content.ErrSchemaViolation)
	require.Equal(t, before, h.document(t))
}

func TestUpdateRecordKeepsOrChangesID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	rec, err := h.svc.UpdateRecord(ctx, content.KindProject, "2", content.Record{
		"title":       "Bob's Project v2",
		"description": "Updated",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec["id"])
	require.Contains(t, h.document(t), `'title': 'Bob\'s Project v2'`)
	require.Contains(t, h.document(t), projectOne+",\n")

	_, err = h.svc.UpdateRecord(ctx, content.KindProject, "2", content.Record{
		"id":          1,
		"title":       "Taken",
		"description": "x",
	})
	require.ErrorIs(t, err, content.ErrDuplicateID)

	rec, err = h.svc.UpdateRecord(ctx, content.KindProject, "2", content.Record{
		"id":          9,
		"title":       "Moved",
		"description": "x",
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), rec["id"])

	list, err := h.svc.Repository().List(ctx, content.KindProject)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 9}, ids(t, list))
}

func TestUpdateAndDeleteMissingRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()
	before := h.document(t)

	_, err := h.svc.UpdateRecord(ctx, content.KindProject, "42", content.Record{"title": "x", "description": "y"})
	require.ErrorIs(t, err, content.ErrRecordNotFound)

	err = h.svc.DeleteRecord(ctx, content.KindProject, "42")
	require.ErrorIs(t, err, content.ErrRecordNotFound)

	err = h.svc.DeleteRecord(ctx, content.KindProject, "seven")
	require.ErrorIs(t, err, content.ErrSchemaViolation)

	require.Equal(t, before, h.document(t))
}

func TestDeleteRecordKeepsCanonicalCommas(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteRecord(ctx, content.KindProject, "1"))

	doc := h.document(t)
	require.NotContains(t, doc, "[\n,")
	require.NotContains(t, doc, ",\n]")
	require.Contains(t, doc, "PROJECTS = [\n    {\n        'id': 2,")

	require.NoError(t, h.svc.DeleteRecord(ctx, content.KindProject, "2"))

	list, err := h.svc.Repository().List(ctx, content.KindProject)
	require.NoError(t, err)
	require.Empty(t, list)

	// The emptied collection accepts records again, starting over at 1.
	rec, err := h.svc.CreateRecord(ctx, content.KindProject, content.Record{"title": "Again", "description": "x"})
	require.NoError(t, err)
	require.Equal(t, int64(1), rec["id"])

	require.Len(t, h.logs.FilterMessage("record deleted").All(), 2)
}

func TestUnknownKind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.CreateRecord(ctx, "gadget", content.Record{})
	require.ErrorIs(t, err, content.ErrUnknownKind)

	_, err = h.svc.Repository().List(ctx, "gadget")
	require.ErrorIs(t, err, content.ErrUnknownKind)
}

func TestStructuralErrorLeavesDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"collections": {"product": "SHOP_ITEMS"}}`)
	before := h.document(t)

	_, err := h.svc.CreateRecord(context.Background(), content.KindProduct, content.Record{
		"name": "x", "description": "y", "price": 1,
	})
	require.ErrorIs(t, err, content.ErrCollectionNotFound)
	require.True(t, content.IsStructural(err))
	require.Equal(t, before, h.document(t))

	warn := h.logs.FilterMessage("create failed").All()
	require.Len(t, warn, 1)
	require.Equal(t, true, warn[0].ContextMap()["structural"])
}

func TestArticleLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	rec, err := h.svc.CreateRecord(ctx, content.KindArticle, content.Record{
		"title": "Old Title",
		"tags":  []any{"go", "cms"},
		"body":  "Hello there.\n",
	})
	require.NoError(t, err)
	require.Equal(t, "old-title", rec["slug"])
	require.Equal(t, "2026-10-19", rec["date"])
	require.Equal(t, "Hello there.\n", rec[cms.BodyField])

	// No body given: the stored one is kept across the rename.
	rec, err = h.svc.UpdateRecord(ctx, content.KindArticle, "old-title", content.Record{"title": "New Title"})
	require.NoError(t, err)
	require.Equal(t, "new-title", rec["slug"])

	_, err = os.Stat(filepath.Join(h.cfg.ArticlesDirAbs, "old-title.md"))
	require.True(t, os.IsNotExist(err))

	got, err := h.svc.Repository().Get(ctx, content.KindArticle, "new-title")
	require.NoError(t, err)
	require.Equal(t, "Hello there.\n", got[cms.BodyField])
	require.Equal(t, []string{}, got["tags"])

	require.Len(t, h.logs.FilterMessage("article renamed").All(), 1)

	_, err = h.svc.CreateRecord(ctx, content.KindArticle, content.Record{"title": "New   title!", "body": 3})
	require.ErrorIs(t, err, content.ErrSchemaViolation)

	_, err = h.svc.CreateRecord(ctx, content.KindArticle, content.Record{"title": "New   title!"})
	require.ErrorIs(t, err, content.ErrSlugCollision)

	require.NoError(t, h.svc.DeleteRecord(ctx, content.KindArticle, "new-title"))

	list, err := h.svc.Repository().List(ctx, content.KindArticle)
	require.NoError(t, err)
	require.Empty(t, list)

	err = h.svc.DeleteRecord(ctx, content.KindArticle, "new-title")
	require.ErrorIs(t, err, content.ErrRecordNotFound)
}

func TestIngestAsset(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"assets_url_prefix": "/media/", "allowed_asset_types": ["png"]}`)
	ctx := context.Background()

	url, err := h.svc.IngestAsset(ctx, pngPayload, "Shot.png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/media/Shot_"), url)

	stored, err := os.ReadFile(filepath.Join(h.cfg.AssetsDirAbs, strings.TrimPrefix(url, "/media/")))
	require.NoError(t, err)
	require.Equal(t, pngPayload, stored)

	_, err = h.svc.IngestAsset(ctx, []byte("<svg/>"), "x.svg")
	require.ErrorIs(t, err, content.ErrUnsupportedAssetType)

	require.Len(t, h.logs.FilterMessage("asset stored").All(), 1)
	require.Len(t, h.logs.FilterMessage("asset rejected").All(), 1)
}

func TestCheckReportsEveryKind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	ctx := context.Background()

	writeFile(t, filepath.Join(h.cfg.ArticlesDirAbs, "good.md"), "---\ntitle: Good\n---\n\nbody\n")
	writeFile(t, filepath.Join(h.cfg.ArticlesDirAbs, "bad.md"), "no header here\n")

	broken := strings.Replace(h.document(t), "PRODUCTS = []", "PRODUCTS = [1, 2]", 1)
	writeFile(t, h.cfg.DocumentAbs, broken)

	results, err := h.svc.Check(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, content.ErrMalformedCollection)
	require.ErrorIs(t, err, article.ErrMalformedArticle)

	byKind := map[content.Kind]cms.CheckResult{}
	for _, r := range results {
		byKind[r.Kind] = r
	}

	counts := map[content.Kind]int{}
	for kind, r := range byKind {
		counts[kind] = r.Count
	}

	want := map[content.Kind]int{
		content.KindProject: 2,
		content.KindProduct: 0,
		content.KindRPi:     1,
		content.KindArticle: 2,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, byKind[content.KindProject].Err)
	require.True(t, content.IsStructural(byKind[content.KindProduct].Err))
	require.Len(t, h.logs.FilterMessage("check failed").All(), 2)
}

func TestCheckHonoursCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Check(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = h.svc.CreateRecord(ctx, content.KindProject, content.Record{"title": "x", "description": "y"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestUnlockedServiceStillWrites(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `{"lock": false}`)

	_, err := h.svc.CreateRecord(context.Background(), content.KindRPi, content.Record{
		"title": "Pi Hole", "description": "DNS sink",
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(filepath.Dir(h.cfg.DocumentAbs), ".locks"))
	require.True(t, os.IsNotExist(err), "no lock files without locking")

	got, err := h.svc.Repository().Get(context.Background(), content.KindRPi, "6")
	require.NoError(t, err)
	require.Equal(t, "Pi Hole", got["title"])
}
