package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

type FileInfo struct {
	Name     string    `json:"name" yaml:"name"`
	Path     string    `json:"path" yaml:"path"`
	Size     int64     `json:"size" yaml:"size"`
	IsDir    bool      `json:"isDir" yaml:"isDir"`
	ModTime  time.Time `json:"modTime" yaml:"modTime"`
	MimeType string    `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
}

type FileList struct {
	CurrentPath string     `json:"currentPath" yaml:"currentPath"`
	Files       []FileInfo `json:"files" yaml:"files"`
	TotalSize   int64      `json:"totalSize" yaml:"totalSize"`
}

type UploadResult struct {
	Message  string `json:"message" yaml:"message"`
	Filename string `json:"filename" yaml:"filename"`
	Size     int64  `json:"size" yaml:"size"`
	Path     string `json:"path" yaml:"path"`
}

const (
	routeFiles    = "/api/v1/files"
	routeUpload   = "/api/v1/files/upload"
	routeDownload = "/api/v1/files/download"
	routeFolder   = "/api/v1/files/folder"
)

func withPath(route, p string) string {
	if p == "" {
		return route
	}
	return route + "?" + url.Values{"path": {p}}.Encode()
}

// ListFiles lists dir. An empty dir lets the backend pick its share root.
func (c *Client) ListFiles(ctx context.Context, dir string) (*FileList, error) {
	var out FileList
	if err := c.getJSON(ctx, routeFiles, withPath(routeFiles, dir), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile streams r to dir/name as a multipart "file" field.
func (c *Client) UploadFile(ctx context.Context, dir, name string, r io.Reader) (*UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	var out UploadResult
	err := c.send(ctx, request{
		method: http.MethodPost, route: routeUpload, path: withPath(routeUpload, dir),
		body: pr, contentType: mw.FormDataContentType(),
	}, &out)
	// unblocks the writer goroutine if the request failed before draining the pipe
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadFile copies the remote file at p into w and returns the byte count.
func (c *Client) DownloadFile(ctx context.Context, p string, w io.Writer) (int64, error) {
	if p == "" {
		return 0, fmt.Errorf("download: path is required")
	}
	res, err := c.do(ctx, request{method: http.MethodGet, route: routeDownload, path: withPath(routeDownload, p)})
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	n, err := io.Copy(w, res.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", p, err)
	}
	return n, nil
}

func (c *Client) DeleteFile(ctx context.Context, p string) error {
	if p == "" {
		return fmt.Errorf("delete: path is required")
	}
	return c.deleteJSON(ctx, routeFiles, withPath(routeFiles, p), nil)
}

// CreateFolder makes parent/name and returns the created path.
func (c *Client) CreateFolder(ctx context.Context, parent, name string) (string, error) {
	var out struct {
		Message string `json:"message"`
		Path    string `json:"path"`
	}
	body := map[string]string{"path": parent, "name": name}
	if err := c.postJSON(ctx, routeFolder, routeFolder, body, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}
