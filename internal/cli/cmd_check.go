package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/sitecms/internal/cms"
	"github.com/calvinalkan/sitecms/internal/content"
)

const defaultDebounce = 200 * time.Millisecond

func checkAction(err error) string {
	if content.IsStructural(err) {
		return "repair the document by hand"
	}

	return "fix or remove the offending record"
}

func checkLine(res cms.CheckResult) string {
	if res.Err != nil {
		return fmt.Sprintf("%s: error: %v", res.Kind, res.Err)
	}

	return fmt.Sprintf("%s: ok (%d records)", res.Kind, res.Count)
}

// CheckCmd returns the check command.
func CheckCmd(env *Env) *Command {
	return &Command{
		Flags: flag.NewFlagSet("check", flag.ContinueOnError),
		Usage: "check",
		Short: "Verify every collection and article",
		Long: `Verify that every collection can be located in the document, that every
record parses with unique ids, and that every article file parses.
Exits 1 if any kind has problems.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %v", errTooManyArgs, args)
			}

			results, err := env.Service.Check(ctx)
			if results == nil && err != nil {
				return err
			}

			for _, res := range results {
				if res.Err != nil {
					o.Warn(fmt.Sprintf("%s: %v", res.Kind, res.Err), checkAction(res.Err))

					continue
				}

				o.Println(checkLine(res))
			}

			return nil
		},
	}
}

// WatchCmd returns the watch command.
func WatchCmd(env *Env) *Command {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	debounce := fs.Duration("debounce", defaultDebounce, "Quiet period after a change before checking")

	return &Command{
		Flags: fs,
		Usage: "watch [--debounce <d>]",
		Short: "Re-run check whenever content changes",
		Long: `Run check, then again every time the document or an article file
changes, until interrupted.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %v", errTooManyArgs, args)
			}

			if *debounce <= 0 {
				return fmt.Errorf("%w: --debounce must be positive", errInvalidValue)
			}

			w := &watcher{env: env, o: o, debounce: *debounce}

			return w.run(ctx)
		},
	}
}

type watcher struct {
	env      *Env
	o        *IO
	debounce time.Duration
}

func (w *watcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	defer func() { _ = fw.Close() }()

	cfg := w.env.Config

	// Directories, not files: atomic replaces swap the inode under the
	// document's name.
	if err := fw.Add(filepath.Dir(cfg.DocumentAbs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(cfg.DocumentAbs), err)
	}

	if info, statErr := os.Stat(cfg.ArticlesDirAbs); statErr == nil && info.IsDir() {
		if err := fw.Add(cfg.ArticlesDirAbs); err != nil {
			return fmt.Errorf("watching %s: %w", cfg.ArticlesDirAbs, err)
		}
	}

	w.check(ctx)

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			if !w.relevant(event) {
				continue
			}

			w.env.Logger.Debug("content changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.env.Logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			w.check(ctx)
		}
	}
}

func (w *watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Clean(event.Name)
	if name == w.env.Config.DocumentAbs {
		return true
	}

	return filepath.Dir(name) == w.env.Config.ArticlesDirAbs && strings.HasSuffix(name, ".md")
}

func (w *watcher) check(ctx context.Context) {
	results, err := w.env.Service.Check(ctx)
	if results == nil && err != nil {
		if !errors.Is(err, context.Canceled) {
			w.o.Println("check failed:", err)
		}

		return
	}

	for _, res := range results {
		w.o.Println(checkLine(res))
	}

	w.o.Println("--")
}
