// Package cms is the administrative entry point of the content engine. A
// [Service] routes create, update and delete requests for a content kind to
// the store that owns it: catalog kinds are rewritten inside the host
// document, articles live in their own files. A [Repository] serves the
// read side.
//
// The service is the only layer that logs. Stores below it report errors
// and leave the decision of what to tell the operator to the caller.
package cms

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/sitecms/internal/article"
	"github.com/calvinalkan/sitecms/internal/asset"
	"github.com/calvinalkan/sitecms/internal/collection"
	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/internal/document"
	"github.com/calvinalkan/sitecms/pkg/fs"
)

// BodyField is the field name that carries an article's body in the
// field maps the service accepts and returns.
const BodyField = "body"

// Options holds optional collaborators of a [Service].
type Options struct {
	// FS defaults to the real filesystem.
	FS fs.FS
	// Now is the clock for article dates and asset names; nil means
	// time.Now.
	Now func() time.Time
}

// Service performs mutations on the site's content.
type Service struct {
	cfg      Config
	log      *zap.Logger
	registry *content.Registry
	docs     *document.Store
	mutators map[content.Kind]*collection.Mutator
	articles map[content.Kind]*article.Store
	assets   *asset.Ingestor
	repo     *Repository
}

// New wires the stores described by cfg. log must not be nil; pass
// zap.NewNop() to discard logs.
func New(cfg Config, registry *content.Registry, log *zap.Logger, opts Options) (*Service, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	lock := !cfg.LockingDisabled

	svc := &Service{
		cfg:      cfg,
		log:      log,
		registry: registry,
		docs:     document.New(fsys, document.Options{Lock: lock, LockTimeout: cfg.LockTimeoutDur}),
		mutators: make(map[content.Kind]*collection.Mutator),
		articles: make(map[content.Kind]*article.Store),
	}

	for _, kind := range registry.Kinds() {
		schema, err := registry.Schema(kind)
		if err != nil {
			return nil, err
		}

		switch schema.Storage {
		case content.StorageLiteral:
			m, mErr := collection.New(schema, cfg.IndentString)
			if mErr != nil {
				return nil, mErr
			}

			svc.mutators[kind] = m
		case content.StorageFile:
			store, sErr := article.New(fsys, cfg.ArticlesDirAbs, schema, article.Options{
				Lock:        lock,
				LockTimeout: cfg.LockTimeoutDur,
				Now:         opts.Now,
			})
			if sErr != nil {
				return nil, sErr
			}

			svc.articles[kind] = store
		}
	}

	ing, err := asset.New(fsys, asset.Options{
		Dir:         cfg.AssetsDirAbs,
		URLPrefix:   cfg.AssetsURLPrefix,
		Allowed:     cfg.AllowedAssetTypes,
		Lock:        lock,
		LockTimeout: cfg.LockTimeoutDur,
		Now:         opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring assets: %w", err)
	}

	svc.assets = ing
	svc.repo = &Repository{
		registry: registry,
		docs:     svc.docs,
		document: cfg.DocumentAbs,
		mutators: svc.mutators,
		articles: svc.articles,
	}

	return svc, nil
}

// Repository returns the read side over the same stores.
func (s *Service) Repository() *Repository {
	return s.repo
}

// Registry returns the schemas the service was built with.
func (s *Service) Registry() *content.Registry {
	return s.registry
}

// CreateRecord stores a new record of kind.
//
// For catalog kinds an omitted id is allocated as one more than the
// highest existing id. For articles the id is the slug derived from the
// title and fields[BodyField] carries the body.
func (s *Service) CreateRecord(ctx context.Context, kind content.Kind, fields content.Record) (content.Record, error) {
	schema, err := s.registry.Schema(kind)
	if err != nil {
		s.failed("create", kind, nil, "", err)

		return nil, err
	}

	if schema.Storage == content.StorageFile {
		store := s.articles[kind]

		rec, body, err := splitBody(fields)
		if err != nil {
			s.failed("create", kind, nil, store.Dir(), err)

			return nil, err
		}

		a, err := store.Create(ctx, rec, body)
		if err != nil {
			s.failed("create", kind, nil, store.Dir(), err)

			return nil, err
		}

		s.done("record created", kind, a.Slug, store.Path(a.Slug))

		return withBody(a), nil
	}

	m := s.mutators[kind]

	var created content.Record

	err = s.docs.ApplyText(ctx, s.cfg.DocumentAbs, func(doc string) (string, error) {
		rec := fields.Clone()

		if id, ok := rec[schema.IDField]; !ok || id == nil {
			next, nextErr := m.NextID(doc)
			if nextErr != nil {
				return "", nextErr
			}

			rec[schema.IDField] = next
		}

		out, normalized, insertErr := m.Insert(doc, rec)
		if insertErr != nil {
			return "", insertErr
		}

		created = normalized

		return out, nil
	})
	if err != nil {
		s.failed("create", kind, fields[schema.IDField], s.cfg.DocumentAbs, err)

		return nil, err
	}

	s.done("record created", kind, created[schema.IDField], s.cfg.DocumentAbs)

	return created, nil
}

// UpdateRecord replaces the record of kind identified by id with fields.
//
// A catalog record keeps its id unless fields names a new one. An article
// moves to a new file when its title yields a new slug; without
// fields[BodyField] the stored body is kept.
func (s *Service) UpdateRecord(ctx context.Context, kind content.Kind, id string, fields content.Record) (content.Record, error) {
	schema, err := s.registry.Schema(kind)
	if err != nil {
		s.failed("update", kind, id, "", err)

		return nil, err
	}

	parsed, err := schema.ParseID(id)
	if err != nil {
		s.failed("update", kind, id, "", err)

		return nil, err
	}

	if schema.Storage == content.StorageFile {
		return s.updateArticle(ctx, kind, id, fields)
	}

	m := s.mutators[kind]

	var updated content.Record

	err = s.docs.ApplyText(ctx, s.cfg.DocumentAbs, func(doc string) (string, error) {
		rec := fields.Clone()
		if v, ok := rec[schema.IDField]; !ok || v == nil {
			rec[schema.IDField] = parsed
		}

		out, normalized, updateErr := m.Update(doc, parsed, rec)
		if updateErr != nil {
			return "", updateErr
		}

		updated = normalized

		return out, nil
	})
	if err != nil {
		s.failed("update", kind, parsed, s.cfg.DocumentAbs, err)

		return nil, err
	}

	s.done("record updated", kind, updated[schema.IDField], s.cfg.DocumentAbs)

	return updated, nil
}

func (s *Service) updateArticle(ctx context.Context, kind content.Kind, slug string, fields content.Record) (content.Record, error) {
	store := s.articles[kind]

	rec, body, err := splitBody(fields)
	if err != nil {
		s.failed("update", kind, slug, store.Path(slug), err)

		return nil, err
	}

	var a article.Article

	if _, hasBody := fields[BodyField]; hasBody {
		a, err = store.Update(ctx, slug, rec, body)
	} else {
		a, err = store.UpdateKeepBody(ctx, slug, rec)
	}

	if err != nil {
		s.failed("update", kind, slug, store.Path(slug), err)

		return nil, err
	}

	if a.Slug != slug {
		s.log.Info("article renamed",
			zap.String("kind", string(kind)),
			zap.String("from", slug),
			zap.String("to", a.Slug))
	}

	s.done("record updated", kind, a.Slug, store.Path(a.Slug))

	return withBody(a), nil
}

// DeleteRecord removes the record of kind identified by id.
func (s *Service) DeleteRecord(ctx context.Context, kind content.Kind, id string) error {
	schema, err := s.registry.Schema(kind)
	if err != nil {
		s.failed("delete", kind, id, "", err)

		return err
	}

	parsed, err := schema.ParseID(id)
	if err != nil {
		s.failed("delete", kind, id, "", err)

		return err
	}

	if schema.Storage == content.StorageFile {
		store := s.articles[kind]

		if err := store.Delete(ctx, id); err != nil {
			s.failed("delete", kind, id, store.Path(id), err)

			return err
		}

		s.done("record deleted", kind, id, store.Path(id))

		return nil
	}

	m := s.mutators[kind]

	err = s.docs.ApplyText(ctx, s.cfg.DocumentAbs, func(doc string) (string, error) {
		return m.Delete(doc, parsed)
	})
	if err != nil {
		s.failed("delete", kind, parsed, s.cfg.DocumentAbs, err)

		return err
	}

	s.done("record deleted", kind, parsed, s.cfg.DocumentAbs)

	return nil
}

// IngestAsset validates and stores an uploaded image and returns the path
// a record's image field can reference.
func (s *Service) IngestAsset(ctx context.Context, data []byte, filename string) (string, error) {
	url, err := s.assets.Ingest(ctx, data, filename)
	if err != nil {
		s.log.Warn("asset rejected",
			zap.String("filename", filename),
			zap.Int("bytes", len(data)),
			zap.Error(err))

		return "", err
	}

	s.log.Info("asset stored",
		zap.String("filename", filename),
		zap.String("url", url),
		zap.Int("bytes", len(data)))

	return url, nil
}

func (s *Service) done(msg string, kind content.Kind, id any, path string) {
	s.log.Info(msg,
		zap.String("kind", string(kind)),
		zap.Any("id", id),
		zap.String("path", path))
}

func (s *Service) failed(op string, kind content.Kind, id any, path string, err error) {
	s.log.Warn(op+" failed",
		zap.String("kind", string(kind)),
		zap.Any("id", id),
		zap.String("path", path),
		zap.Bool("structural", content.IsStructural(err)),
		zap.Error(err))
}

// splitBody separates the article body from the header fields.
func splitBody(fields content.Record) (content.Record, string, error) {
	rec := fields.Clone()

	raw, ok := rec[BodyField]
	delete(rec, BodyField)

	if !ok || raw == nil {
		return rec, "", nil
	}

	body, isString := raw.(string)
	if !isString {
		return nil, "", &content.FieldError{Field: BodyField, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}

	return rec, body, nil
}

func withBody(a article.Article) content.Record {
	rec := a.Record.Clone()
	rec[BodyField] = a.Body

	return rec
}
