package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/fileexts"
	"github.com/discode/bridge/internal/messaging"
)

const (
	maxAttachmentBytes = 25 * 1024 * 1024
	maxAttachmentFiles = 100
)

// downloadAttachments fetches every inbound attachment allowed by
// allowedAttachmentExt into <projectPath>/.discode/files/, enforcing the
// per-file size cap and pruning the directory to the most recent
// maxAttachmentFiles afterward. Returns the absolute local paths of every
// file actually downloaded, skipping (not failing on) disallowed or
// oversized attachments.
func downloadAttachments(ctx context.Context, client *http.Client, projectPath string, attachments []messaging.InboundAttachment, timeout time.Duration) ([]string, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	dir := filepath.Join(projectPath, ".discode", "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.TransientIO, err, "create attachments dir")
	}

	var saved []string
	for _, att := range attachments {
		if !fileexts.Allowed(filepath.Ext(att.Filename)) {
			continue
		}
		if att.Size > maxAttachmentBytes {
			continue
		}

		dlCtx, cancel := context.WithTimeout(ctx, timeout)
		path, err := downloadOne(dlCtx, client, dir, att)
		cancel()
		if err != nil {
			continue
		}
		saved = append(saved, path)
	}

	pruneOldestAttachments(dir, maxAttachmentFiles)
	return saved, nil
}

func downloadOne(ctx context.Context, client *http.Client, dir string, att messaging.InboundAttachment) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", att.URL, resp.StatusCode)
	}

	name := sanitizeFilename(att.Filename)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxAttachmentBytes+1)); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "file"
	}
	return name
}

// pruneOldestAttachments removes the oldest files in dir beyond keep,
// ordered by modification time, implementing the "LRU prune to 100 files"
// rule from §4.5 step 3.
func pruneOldestAttachments(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) <= keep {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	excess := len(files) - keep
	for i := 0; i < excess; i++ {
		os.Remove(files[i].path)
	}
}
