// Package upload ships archives to the external file host and returns
// the public download page link.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// GoFile API endpoints
const (
	defaultAPIBase       = "https://api.gofile.io"
	defaultUploadPattern = "https://%s.gofile.io/contents/uploadfile"

	fileFieldName  = "file"
	tokenFieldName = "token"

	uploadTimeout = 10 * time.Minute
)

// GoFileClient talks to the gofile.io REST API.
type GoFileClient struct {
	httpClient    *http.Client
	log           *zap.Logger
	token         string
	apiBase       string
	uploadPattern string // fmt pattern taking the server name
}

// NewGoFileClient creates a client. token may be empty for guest uploads.
func NewGoFileClient(token string, log *zap.Logger) *GoFileClient {
	return &GoFileClient{
		httpClient:    &http.Client{Timeout: uploadTimeout},
		log:           log,
		token:         token,
		apiBase:       defaultAPIBase,
		uploadPattern: defaultUploadPattern,
	}
}

type serversResponse struct {
	Status string `json:"status"`
	Data   struct {
		Servers []struct {
			Name string `json:"name"`
		} `json:"servers"`
	} `json:"data"`
}

type uploadResponse struct {
	Status string `json:"status"`
	Data   struct {
		DownloadPage string `json:"downloadPage"`
	} `json:"data"`
}

// BestServer asks the API which upload server to use.
func (c *GoFileClient) BestServer(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/servers", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query servers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query servers: unexpected status %s", resp.Status)
	}

	var sr serversResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("query servers: %w", err)
	}
	if sr.Status != "ok" || len(sr.Data.Servers) == 0 {
		return "", fmt.Errorf("query servers: no server available (status %q)", sr.Status)
	}
	return sr.Data.Servers[0].Name, nil
}

// Upload sends the file at path and returns its download page URL.
// onProgress, when non-nil, receives the rising upload percentage along
// with a short label for the current stage.
func (c *GoFileClient) Upload(ctx context.Context, path string, onProgress func(pct int, status string)) (string, error) {
	report := onProgress
	if report == nil {
		report = func(int, string) {}
	}

	report(0, "Finding best upload server...")
	server, err := c.BestServer(ctx)
	if err != nil {
		return "", err
	}
	uploadStatus := fmt.Sprintf("Uploading to %s...", server)
	report(0, uploadStatus)

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := c.writeForm(mw, in)
		mw.Close()
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf(c.uploadPattern, server)
	body := io.Reader(pr)
	if onProgress != nil {
		body = &progressReader{r: pr, total: info.Size(), onProgress: func(pct int) {
			report(pct, uploadStatus)
		}}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.log.Info("uploading archive",
		zap.String("server", server), zap.Int64("bytes", info.Size()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload: unexpected status %s", resp.Status)
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if ur.Status != "ok" || ur.Data.DownloadPage == "" {
		return "", fmt.Errorf("upload rejected (status %q)", ur.Status)
	}

	c.log.Info("upload complete", zap.String("link", ur.Data.DownloadPage))
	return ur.Data.DownloadPage, nil
}

func (c *GoFileClient) writeForm(mw *multipart.Writer, in *os.File) error {
	if c.token != "" {
		if err := mw.WriteField(tokenFieldName, c.token); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(fileFieldName, filepath.Base(in.Name()))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, in)
	return err
}

// progressReader reports how much of the wrapped stream has been consumed.
// The multipart framing makes the stream slightly longer than the file, so
// the percentage is clamped.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.lastPct {
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}
