package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Job represents a download job.
type Job struct {
	Name     string // requirement the artifact belongs to
	URL      string // http(s) URL or local file path
	DestPath string
}

// Result represents a download result.
type Result struct {
	Job   Job
	Error error
}

// Downloader handles parallel artifact downloads.
type Downloader struct {
	workers  int
	cacheDir string
	client   *http.Client
}

// NewDownloader creates a new downloader with the specified number of
// workers. cacheDir may be empty to disable the download cache.
func NewDownloader(workers int, cacheDir string) *Downloader {
	if workers < 1 {
		workers = 1
	}
	return &Downloader{
		workers:  workers,
		cacheDir: cacheDir,
		client:   &http.Client{},
	}
}

// Download fetches multiple artifacts in parallel. Results are returned in
// job order.
func (d *Downloader) Download(ctx context.Context, jobs []Job) []Result {
	if d.cacheDir != "" {
		if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
			results := make([]Result, len(jobs))
			for i, job := range jobs {
				results[i] = Result{Job: job, Error: fmt.Errorf("creating download cache: %w", err)}
			}
			return results
		}
	}

	type indexed struct {
		i   int
		job Job
	}
	jobChan := make(chan indexed, len(jobs))
	results := make([]Result, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ij := range jobChan {
				results[ij.i] = Result{Job: ij.job, Error: d.downloadOne(ctx, ij.job)}
			}
		}()
	}

	for i, job := range jobs {
		jobChan <- indexed{i: i, job: job}
	}
	close(jobChan)
	wg.Wait()

	return results
}

func (d *Downloader) downloadOne(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Already present from an earlier run
	if _, err := os.Stat(job.DestPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(job.DestPath), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	if !isRemote(job.URL) {
		return copyFile(job.URL, job.DestPath)
	}

	if cached := d.CachePath(job.URL); cached != "" {
		if _, err := os.Stat(cached); err == nil {
			return copyFile(cached, job.DestPath)
		}
	}

	if err := d.fetch(ctx, job.URL, job.DestPath); err != nil {
		return err
	}

	if cached := d.CachePath(job.URL); cached != "" {
		if err := os.MkdirAll(filepath.Dir(cached), 0755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
		if err := copyFile(job.DestPath, cached); err != nil {
			return fmt.Errorf("caching %s: %w", job.URL, err)
		}
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: HTTP %d", rawURL, resp.StatusCode)
	}

	return writeAtomic(destPath, resp.Body)
}

// Write to temp file first, then rename
func writeAtomic(destPath string, r io.Reader) error {
	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	_, err = io.Copy(out, r)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()
	return writeAtomic(dst, in)
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// CachePath returns the cache path for a remote artifact URL, flattened to a
// single file name the same way for every run. It returns "" when caching
// is disabled.
func (d *Downloader) CachePath(rawURL string) string {
	if d.cacheDir == "" {
		return ""
	}
	return filepath.Join(d.cacheDir, url.QueryEscape(rawURL))
}
