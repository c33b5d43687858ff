package sortengine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wezm/mkv-rename/internal/logging"
	"github.com/wezm/mkv-rename/internal/metadata"
)

var ErrRenameFailed = errors.New("rename failed")

// renameFunc is swapped in tests to simulate filesystem failures.
var renameFunc = renameNoReplace

// RenameError reports a failed rename. It matches ErrRenameFailed with errors.Is.
type RenameError struct {
	From string
	To   string
	Err  error
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("unable to rename to %s: %v", e.To, e.Err)
}

func (e *RenameError) Unwrap() error { return e.Err }

func (e *RenameError) Is(target error) bool { return target == ErrRenameFailed }

// DateSource is consulted when a container parses but carries no creation date.
type DateSource interface {
	CreationDate(path string) (time.Time, error)
}

const (
	reportRenamed   = "renamed"
	reportPlanned   = "planned"
	reportUnchanged = "unchanged"
	reportFailed    = "failed"
	reportUndone    = "undone"
)

type Engine struct {
	Config   *Config
	DB       *DB
	Log      *logging.Logger
	Fallback DateSource

	offset time.Duration
	mu     sync.Mutex
	report map[string][]string
	count  uint64
}

// NewEngine opens the journal and exiftool when the config asks for them.
func NewEngine(config *Config, log *logging.Logger) (*Engine, error) {
	offset, err := OffsetFromHours(config.TzOffset)
	if err != nil {
		return nil, err
	}
	engine := &Engine{
		Config: config,
		Log:    log,
		offset: offset,
		report: make(map[string][]string),
	}
	if config.Journal.Enabled {
		engine.DB, err = NewDB(config.Journal.DBFile)
		if err != nil {
			return nil, err
		}
		log.Debug("journal: %s", config.Journal.DBFile)
	}
	if config.Exiftool.Fallback {
		et, err := metadata.GetExiftool()
		if err != nil {
			engine.Close()
			return nil, err
		}
		engine.Fallback = et
	}
	return engine, nil
}

func (e *Engine) Close() error {
	var err error
	if e.DB != nil {
		err = e.DB.DbClose()
	}
	if et, ok := e.Fallback.(*metadata.Exiftool); ok {
		if closeErr := et.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Plan reads the creation date of path and computes its new name. Nothing is written.
func (e *Engine) Plan(path string) (*RenamePlan, error) {
	created, format, err := metadata.CreationDate(path)
	if err != nil && errors.Is(err, metadata.ErrTimestampNotFound) && e.Fallback != nil {
		e.Log.Debug("%s: %v, asking exiftool", path, err)
		created, err = e.Fallback.CreationDate(path)
	}
	if err != nil {
		return nil, err
	}

	epoch, err := Epoch(created, e.offset)
	if err != nil {
		return nil, err
	}
	plan := NewPlan(path, epoch)
	plan.Created = created.Add(e.offset)
	plan.Format = format.String()
	e.Log.Debug("%s: %s creation date %s, epoch %d", path, plan.Format, created.Format(time.RFC3339Nano), epoch)
	return plan, nil
}

// Apply renames plan.From to plan.To, refusing to replace an existing file. Calls are
// serialized so concurrent callers cannot race on the same directory.
func (e *Engine) Apply(plan *RenamePlan) error {
	if plan.Unchanged() {
		return nil
	}

	var media *Media
	if e.DB != nil {
		var err error
		media, err = NewMediaFile(plan.From)
		if err != nil {
			return &RenameError{From: plan.From, To: plan.To, Err: err}
		}
		if err := media.SetChecksum(); err != nil {
			return &RenameError{From: plan.From, To: plan.To, Err: err}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := moveFile(plan.From, plan.To); err != nil {
		return err
	}

	if e.DB != nil {
		if err := e.DB.AddRename(plan, media); err != nil {
			e.Log.Warn("%s: renamed but not journaled: %v", plan.To, err)
		}
	}
	return nil
}

func moveFile(from, to string) error {
	if err := renameFunc(from, to); err != nil {
		return &RenameError{From: from, To: to, Err: err}
	}
	return nil
}

// renameIfAbsent checks for to before renaming, so it only guards against
// collisions that already exist.
func renameIfAbsent(from, to string) error {
	if _, err := os.Lstat(to); err == nil {
		return &os.LinkError{Op: "rename", Old: from, New: to, Err: os.ErrExist}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(from, to)
}

// ProcessFile plans and, unless in dry-run mode, performs the rename of one file.
func (e *Engine) ProcessFile(path string) error {
	plan, err := e.Plan(path)
	if err != nil {
		return err
	}

	if plan.Unchanged() {
		e.Log.Info("%s: already named for %d, nothing to do", path, plan.Epoch)
		e.addReport(reportUnchanged, path)
		return nil
	}

	if e.Config.DryRun {
		e.Log.Info("would rename: %s -> %s", plan.From, plan.To)
		e.addReport(reportPlanned, path)
		return nil
	}

	e.Log.Info("%s -> %s (%s)", plan.From, plan.To, plan.Created.Format(time.RFC1123Z))
	if err := e.Apply(plan); err != nil {
		return err
	}
	e.addReport(reportRenamed, plan.To)
	return nil
}

// Process handles each path independently and reports whether all of them succeeded.
func (e *Engine) Process(paths []string) bool {
	ok := true
	for _, path := range paths {
		e.count += 1
		if err := e.ProcessFile(path); err != nil {
			e.Log.Error("Error processing %s: %v", path, err)
			e.addReport(reportFailed, path)
			ok = false
		}
	}
	e.Summary()
	return ok
}

// Undo renames journaled files back to their original names.
func (e *Engine) Undo(paths []string) bool {
	if e.DB == nil {
		e.Log.Error("undo needs the rename journal (use --journal or journal.enabled)")
		return false
	}
	ok := true
	for _, path := range paths {
		e.count += 1
		if err := e.undoFile(path); err != nil {
			e.Log.Error("Error processing %s: %v", path, err)
			e.addReport(reportFailed, path)
			ok = false
		}
	}
	e.Summary()
	return ok
}

func (e *Engine) undoFile(path string) error {
	entry, err := e.DB.LookupRenamed(path)
	if err != nil {
		return err
	}
	original := filepath.Join(filepath.Dir(path), filepath.Base(entry.Original))

	if e.Config.DryRun {
		e.Log.Info("would rename: %s -> %s", path, original)
		e.addReport(reportPlanned, path)
		return nil
	}

	e.Log.Info("%s -> %s", path, original)
	e.mu.Lock()
	err = moveFile(path, original)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.DB.MarkUndone(entry.ID); err != nil {
		e.Log.Warn("%s: restored but journal not updated: %v", original, err)
	}
	e.addReport(reportUndone, original)
	return nil
}

func (e *Engine) addReport(kind, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report[kind] = append(e.report[kind], path)
}

// Summary prints grouped counts for batches of more than one file, and the full report when verbose.
func (e *Engine) Summary() {
	if e.Log.Verbose() {
		e.Report()
	}
	if e.count < 2 && !e.Log.Verbose() {
		return
	}
	p := message.NewPrinter(language.AmericanEnglish)
	e.mu.Lock()
	defer e.mu.Unlock()
	p.Fprintf(e.Log.Out(), "%d files: %d renamed, %d planned, %d unchanged, %d undone, %d failed\n",
		e.count,
		len(e.report[reportRenamed]),
		len(e.report[reportPlanned]),
		len(e.report[reportUnchanged]),
		len(e.report[reportUndone]),
		len(e.report[reportFailed]),
	)
}

func (e *Engine) Report() {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.report))
	for k := range e.report {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := e.Log.Out()
	for _, k := range keys {
		fmt.Fprintf(out, "\n%s:\n", k)
		var count uint64 = 0
		for _, item := range e.report[k] {
			count += 1
			fmt.Fprintf(out, "%10d: %s\n", count, item)
		}
	}
}
