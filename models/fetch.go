package models

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ResolveURI resolves ref against base.
//
// Absolute http(s) and file URLs are returned unchanged. When base is empty, ref
// is used as is. A plain file path base is joined with a relative ref.
//
// Arguments:
//   - base: The origin, for example "https://models.example.com/yolo11n-seg/".
//   - ref: The model location, absolute or relative.
//
// Returns:
//   - string: The resolved location.
//   - error: An error if either value is not a valid URL.
func ResolveURI(base, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty model uri")
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return "", errors.Wrapf(err, "invalid model uri %q", ref)
	}
	if refURL.IsAbs() || base == "" {
		return ref, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrapf(err, "invalid base url %q", base)
	}
	if !baseURL.IsAbs() {
		if filepath.IsAbs(ref) {
			return ref, nil
		}
		return filepath.Join(base, filepath.FromSlash(ref)), nil
	}

	return baseURL.ResolveReference(refURL).String(), nil
}

// isRemote reports whether uri must be fetched over HTTP.
func isRemote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// localPath converts a file URL or plain path to a filesystem path.
func localPath(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		if u, err := url.Parse(uri); err == nil {
			return filepath.FromSlash(u.Path)
		}
	}
	return uri
}

// byteProgress receives the number of bytes done for the current file and its
// total size, or -1 when the size is unknown.
type byteProgress func(done, total int64)

// fetcher downloads model artifacts into a cache directory.
type fetcher struct {
	client   *http.Client
	cacheDir string
}

// fetch makes uri available on the local filesystem and returns its path.
//
// Local files are used in place. Remote files are written to the cache
// directory under their base name so sibling weight files end up next to the
// model description.
func (f *fetcher) fetch(ctx context.Context, uri string, progress byteProgress) (string, error) {
	if !isRemote(uri) {
		p := localPath(uri)
		info, err := os.Stat(p)
		if err != nil {
			return "", errors.Wrapf(err, "model file %s", p)
		}
		if info.IsDir() {
			return "", errors.Errorf("model file %s is a directory", p)
		}
		progress(info.Size(), info.Size())
		return p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build request for %s", uri)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to fetch %s", uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("failed to fetch %s: %s", uri, resp.Status)
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create cache dir %s", f.cacheDir)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Wrapf(err, "invalid model uri %q", uri)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", errors.Errorf("cannot derive a file name from %s", uri)
	}
	dst := filepath.Join(f.cacheDir, name)

	tmp, err := os.CreateTemp(f.cacheDir, name+".*.part")
	if err != nil {
		return "", errors.Wrap(err, "failed to create download file")
	}
	defer os.Remove(tmp.Name())

	total := resp.ContentLength
	counter := &countingWriter{total: total, progress: progress}
	progress(0, total)

	if _, err := io.Copy(io.MultiWriter(tmp, counter), resp.Body); err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "failed to download %s", uri)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "failed to flush download")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrapf(err, "failed to move download to %s", dst)
	}

	progress(counter.done, counter.done)
	return dst, nil
}

type countingWriter struct {
	done     int64
	total    int64
	progress byteProgress
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	w.progress(w.done, w.total)
	return len(p), nil
}
