package cms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/sitecms/internal/article"
	"github.com/calvinalkan/sitecms/internal/collection"
	"github.com/calvinalkan/sitecms/internal/content"
	"github.com/calvinalkan/sitecms/internal/document"
)

// Repository reads content. Every call goes back to the files; nothing is
// cached, so a rendering layer holding a Repository always sees the latest
// committed write.
type Repository struct {
	registry *content.Registry
	docs     *document.Store
	document string
	mutators map[content.Kind]*collection.Mutator
	articles map[content.Kind]*article.Store
}

// Kinds returns the registered content kinds.
func (r *Repository) Kinds() []content.Kind {
	return r.registry.Kinds()
}

func (r *Repository) readDocument() (string, error) {
	data, err := r.docs.Read(r.document)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// List returns every record of kind in stored order. Articles are sorted
// by slug and carry their body under [BodyField].
func (r *Repository) List(ctx context.Context, kind content.Kind) ([]content.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := r.registry.Schema(kind); err != nil {
		return nil, err
	}

	if store, ok := r.articles[kind]; ok {
		list, err := store.List()
		if err != nil {
			return nil, err
		}

		recs := make([]content.Record, len(list))
		for i, a := range list {
			recs[i] = withBody(a)
		}

		return recs, nil
	}

	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}

	return r.mutators[kind].List(doc)
}

// Get returns the record of kind identified by id, given as text.
func (r *Repository) Get(ctx context.Context, kind content.Kind, id string) (content.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema, err := r.registry.Schema(kind)
	if err != nil {
		return nil, err
	}

	parsed, err := schema.ParseID(id)
	if err != nil {
		return nil, err
	}

	if store, ok := r.articles[kind]; ok {
		a, getErr := store.Get(id)
		if getErr != nil {
			return nil, getErr
		}

		return withBody(a), nil
	}

	doc, err := r.readDocument()
	if err != nil {
		return nil, err
	}

	return r.mutators[kind].Get(doc, parsed)
}

// CheckResult is the outcome of checking one kind.
type CheckResult struct {
	Kind  content.Kind
	Count int
	Err   error
}

// Check verifies every kind concurrently: each collection must be
// locatable with parseable records and unique ids, each article file must
// parse. The document is read once and shared by all collection checks.
// The returned error joins the failures of all kinds.
func (r *Repository) Check(ctx context.Context) ([]CheckResult, error) {
	kinds := r.registry.Kinds()
	results := make([]CheckResult, len(kinds))

	loadDoc := sync.OnceValues(r.readDocument)

	g, gctx := errgroup.WithContext(ctx)

	for i, kind := range kinds {
		g.Go(func() error {
			count, err := r.checkKind(gctx, kind, loadDoc)
			results[i] = CheckResult{Kind: kind, Count: count, Err: err}

			// Only cancellation stops the siblings; content errors are
			// collected per kind.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var errs []error

	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Kind, res.Err))
		}
	}

	return results, errors.Join(errs...)
}

func (r *Repository) checkKind(ctx context.Context, kind content.Kind, loadDoc func() (string, error)) (int, error) {
	if store, ok := r.articles[kind]; ok {
		return store.Check(ctx)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	doc, err := loadDoc()
	if err != nil {
		return 0, err
	}

	return r.mutators[kind].Check(doc)
}

// Check runs [Repository.Check] and logs the outcome per kind.
func (s *Service) Check(ctx context.Context) ([]CheckResult, error) {
	results, err := s.repo.Check(ctx)

	for _, res := range results {
		if res.Err != nil {
			s.log.Warn("check failed",
				zap.String("kind", string(res.Kind)),
				zap.Bool("structural", content.IsStructural(res.Err)),
				zap.Error(res.Err))

			continue
		}

		s.log.Debug("check passed",
			zap.String("kind", string(res.Kind)),
			zap.Int("records", res.Count))
	}

	return results, err
}
