/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package walker enumerates the <category>/<company>/<date>/<file> hierarchy of the
// incoming share. Every level is a function returning its entries and its errors;
// a failing branch is recorded and skipped while its siblings carry on.
package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/blnkfinance/einvoice/config"
	"github.com/blnkfinance/einvoice/internal/apierror"
	"github.com/blnkfinance/einvoice/internal/classifier"
	"github.com/blnkfinance/einvoice/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Scope values used in ErrorRecord.
const (
	ScopeRoot     = "root"
	ScopeCategory = "category"
	ScopeCompany  = "company"
	ScopeDate     = "date"
	ScopeFile     = "file"
)

// PreviewFunc extracts the listing preview of one classified file.
type PreviewFunc func(ctx context.Context, path string, c classifier.Classification) (model.ExtractedFields, error)

// Walker scans one incoming root. Directory listings share a budget of concurrency
// slots and file stats and previews share a budget of batchSize slots, whatever the
// number of companies and dates being walked in parallel.
type Walker struct {
	root        string
	categories  []string
	timeout     time.Duration
	concurrency int
	batchSize   int
	preview     PreviewFunc

	dirSlots  *semaphore.Weighted
	fileSlots *semaphore.Weighted

	readDir func(string) ([]os.DirEntry, error)
	stat    func(string) (os.FileInfo, error)
}

type Option func(*Walker)

// WithPreview sets the extractor used to fill ExtractedFields.
func WithPreview(p PreviewFunc) Option {
	return func(w *Walker) { w.preview = p }
}

// WithReadDir replaces os.ReadDir, e.g. to simulate a hanging share.
func WithReadDir(fn func(string) ([]os.DirEntry, error)) Option {
	return func(w *Walker) { w.readDir = fn }
}

func New(cfg config.StorageConfig, opts ...Option) *Walker {
	w := &Walker{
		root:        cfg.IncomingRoot,
		categories:  cfg.Categories,
		timeout:     cfg.DirTimeout,
		concurrency: cfg.ScanConcurrency,
		batchSize:   cfg.FileBatchSize,
		readDir:     os.ReadDir,
		stat:        os.Stat,
	}
	if w.concurrency <= 0 {
		w.concurrency = 4
	}
	if w.batchSize <= 0 {
		w.batchSize = 10
	}
	if w.timeout <= 0 {
		w.timeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(w)
	}
	w.dirSlots = semaphore.NewWeighted(int64(w.concurrency))
	w.fileSlots = semaphore.NewWeighted(int64(w.batchSize))
	return w
}

func (w *Walker) Root() string {
	return w.root
}

// Walk scans every category and returns the discovered files sorted newest first.
func (w *Walker) Walk(ctx context.Context) model.ScanResult {
	var result model.ScanResult

	if err := w.ensureDir(ctx, w.root); err != nil {
		result.Errors = append(result.Errors, errorRecord(ScopeRoot, w.root, err))
		result.Summary.Errors = len(result.Errors)
		return result
	}

	for _, category := range w.categories {
		files, summary, errs := w.walkCategory(ctx, category)
		result.Files = append(result.Files, files...)
		result.Errors = append(result.Errors, errs...)
		result.Summary.TotalFiles += summary.TotalFiles
		result.Summary.Valid += summary.Valid
		result.Summary.Invalid += summary.Invalid
	}
	result.Summary.Errors = len(result.Errors)

	sort.SliceStable(result.Files, func(i, j int) bool {
		return result.Files[i].ModifiedTime.After(result.Files[j].ModifiedTime)
	})

	for _, e := range result.Errors {
		logrus.WithFields(logrus.Fields{"scope": e.Scope, "path": e.Path}).Warn(e.Message)
	}
	return result
}

type levelResult struct {
	files   []model.DiscoveredFile
	summary model.ScanSummary
	errs    []model.ErrorRecord
}

func (l *levelResult) merge(o levelResult) {
	l.files = append(l.files, o.files...)
	l.errs = append(l.errs, o.errs...)
	l.summary.TotalFiles += o.summary.TotalFiles
	l.summary.Valid += o.summary.Valid
	l.summary.Invalid += o.summary.Invalid
}

func (w *Walker) walkCategory(ctx context.Context, category string) ([]model.DiscoveredFile, model.ScanSummary, []model.ErrorRecord) {
	dir := filepath.Join(w.root, category)
	if err := w.ensureDir(ctx, dir); err != nil {
		return nil, model.ScanSummary{}, []model.ErrorRecord{errorRecord(ScopeCategory, dir, err)}
	}

	companies, err := w.listDirs(ctx, dir)
	if err != nil {
		return nil, model.ScanSummary{}, []model.ErrorRecord{errorRecord(ScopeCategory, dir, err)}
	}

	results := make([]levelResult, len(companies))
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for i, company := range companies {
		g.Go(func() error {
			results[i] = w.walkCompany(ctx, category, company)
			return nil
		})
	}
	_ = g.Wait()

	var out levelResult
	for _, r := range results {
		out.merge(r)
	}
	return out.files, out.summary, out.errs
}

func (w *Walker) walkCompany(ctx context.Context, category, company string) levelResult {
	dir := filepath.Join(w.root, category, company)
	dates, err := w.listDirs(ctx, dir)
	if err != nil {
		return levelResult{errs: []model.ErrorRecord{errorRecord(ScopeCompany, dir, err)}}
	}

	results := make([]levelResult, len(dates))
	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for i, date := range dates {
		g.Go(func() error {
			results[i] = w.walkDate(ctx, category, company, date)
			return nil
		})
	}
	_ = g.Wait()

	var out levelResult
	for _, r := range results {
		out.merge(r)
	}
	return out
}

// walkDate processes the files of one date directory in sequential batches.
func (w *Walker) walkDate(ctx context.Context, category, company, date string) levelResult {
	dir := filepath.Join(w.root, category, company, date)
	entries, err := w.readDirTimeout(ctx, dir)
	if err != nil {
		return levelResult{errs: []model.ErrorRecord{errorRecord(ScopeDate, dir, err)}}
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out levelResult
	for start := 0; start < len(names); start += w.batchSize {
		end := min(start+w.batchSize, len(names))
		out.merge(w.processBatch(ctx, category, company, date, names[start:end]))
	}
	return out
}

func (w *Walker) processBatch(ctx context.Context, category, company, date string, names []string) levelResult {
	results := make([]levelResult, len(names))
	g := new(errgroup.Group)
	for i, name := range names {
		g.Go(func() error {
			results[i] = w.processFile(ctx, category, company, date, name)
			return nil
		})
	}
	_ = g.Wait()

	var out levelResult
	for _, r := range results {
		out.merge(r)
	}
	return out
}

func (w *Walker) processFile(ctx context.Context, category, company, date, name string) levelResult {
	out := levelResult{summary: model.ScanSummary{TotalFiles: 1}}
	path := filepath.Join(w.root, category, company, date, name)

	c, err := classifier.Classify(name)
	if err != nil {
		out.summary.Invalid = 1
		return out
	}

	if err := w.fileSlots.Acquire(ctx, 1); err != nil {
		out.errs = append(out.errs, errorRecord(ScopeFile, path, err))
		return out
	}
	defer w.fileSlots.Release(1)

	info, err := w.statTimeout(ctx, path)
	if err != nil {
		out.errs = append(out.errs, errorRecord(ScopeFile, path, err))
		return out
	}

	file := model.DiscoveredFile{
		Type:             category,
		Company:          company,
		Date:             date,
		FileName:         name,
		FilePath:         path,
		Size:             info.Size(),
		ModifiedTime:     info.ModTime(),
		UploadedDate:     info.ModTime(),
		DocumentNumber:   c.DocumentNumber,
		DocumentTypeCode: c.DocType,
		DocumentType:     c.DocType.String(),
	}

	if w.preview != nil {
		fields, err := w.preview(ctx, path, c)
		if err != nil {
			out.errs = append(out.errs, errorRecord(ScopeFile, path, err))
		} else {
			file.Extracted = fields
		}
	}

	out.summary.Valid = 1
	out.files = append(out.files, file)
	return out
}

// LatestModTime returns the newest mtime of the root and every category, company and
// date directory. Unreadable branches are skipped.
func (w *Walker) LatestModTime(ctx context.Context) (time.Time, []model.ErrorRecord) {
	var latest time.Time
	var errs []model.ErrorRecord
	track := func(path string) bool {
		info, err := w.statTimeout(ctx, path)
		if err != nil {
			errs = append(errs, errorRecord(ScopeRoot, path, err))
			return false
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return true
	}

	if !track(w.root) {
		return latest, errs
	}
	for _, category := range w.categories {
		catDir := filepath.Join(w.root, category)
		if !track(catDir) {
			continue
		}
		companies, err := w.listDirs(ctx, catDir)
		if err != nil {
			errs = append(errs, errorRecord(ScopeCategory, catDir, err))
			continue
		}
		for _, company := range companies {
			compDir := filepath.Join(catDir, company)
			if !track(compDir) {
				continue
			}
			dates, err := w.listDirs(ctx, compDir)
			if err != nil {
				errs = append(errs, errorRecord(ScopeCompany, compDir, err))
				continue
			}
			for _, date := range dates {
				track(filepath.Join(compDir, date))
			}
		}
	}
	return latest, errs
}

// Locate resolves a file inside the hierarchy and checks that it exists.
func (w *Walker) Locate(ctx context.Context, loc model.Location) (string, os.FileInfo, error) {
	for _, part := range []string{loc.Type, loc.Company, loc.Date, loc.FileName} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", nil, apierror.NewAPIError(apierror.ErrBadRequest, "invalid document location", loc)
		}
	}
	path := filepath.Join(w.root, loc.Type, loc.Company, loc.Date, loc.FileName)
	info, err := w.statTimeout(ctx, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, apierror.NewAPIError(apierror.ErrFileNotFound, fmt.Sprintf("file %s not found", loc.FileName), nil)
		}
		return "", nil, err
	}
	return path, info, nil
}

// Find searches every category for a valid file carrying documentNumber and returns
// the newest match.
func (w *Walker) Find(ctx context.Context, documentNumber string) (model.DiscoveredFile, error) {
	scan := w.Walk(ctx)
	for _, f := range scan.Files {
		if f.DocumentNumber == documentNumber {
			return f, nil
		}
	}
	return model.DiscoveredFile{}, apierror.NewAPIError(apierror.ErrFileNotFound,
		fmt.Sprintf("no file found for document %s", documentNumber), nil)
}

func (w *Walker) listDirs(ctx context.Context, dir string) ([]string, error) {
	entries, err := w.readDirTimeout(ctx, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (w *Walker) ensureDir(ctx context.Context, dir string) error {
	_, err := withTimeout(ctx, w.timeout, dir, func() (struct{}, error) {
		return struct{}{}, os.MkdirAll(dir, 0o755)
	})
	return err
}

func (w *Walker) readDirTimeout(ctx context.Context, dir string) ([]os.DirEntry, error) {
	if err := w.dirSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.dirSlots.Release(1)
	return withTimeout(ctx, w.timeout, dir, func() ([]os.DirEntry, error) {
		return w.readDir(dir)
	})
}

func (w *Walker) statTimeout(ctx context.Context, path string) (os.FileInfo, error) {
	return withTimeout(ctx, w.timeout, path, func() (os.FileInfo, error) {
		return w.stat(path)
	})
}

// withTimeout runs fn and gives up after timeout. A hung share call keeps its
// goroutine until the OS returns, but the caller is released.
func withTimeout[T any](ctx context.Context, timeout time.Duration, path string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, apierror.NewAPIError(apierror.ErrDirectoryAccess,
			fmt.Sprintf("timed out accessing %s after %s", path, timeout), nil)
	}
}

func errorRecord(scope, path string, err error) model.ErrorRecord {
	return model.ErrorRecord{Scope: scope, Path: path, Message: err.Error()}
}
