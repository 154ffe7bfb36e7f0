package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/transport"
)

// Fetcher 执行单次 GET，把正文流式写入 Dir 下的临时文件。
type Fetcher struct {
	Client    *http.Client
	Dir       string
	UserAgent string
	Timeout   time.Duration
	MinBytes  int64
	MaxBytes  int64
	Logger    *logrus.Logger
}

// Fetch 下载一次并分类：404 → NotFound，其余 4xx → Fatal，5xx 与网络错误 → Transient，本地文件错误 → Fatal。
func (f *Fetcher) Fetch(ctx context.Context, url string) Outcome {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{Kind: KindFatal, Err: fmt.Errorf("build request: %w", err)}
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := f.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Outcome{Kind: KindFatal, Err: err}
		}
		failure := transport.FailureKind(err)
		f.logger().WithFields(logrus.Fields{"url": url, "failure": failure, "error": err.Error()}).Debug("download_request_failed")
		return Outcome{Kind: KindTransient, Err: fmt.Errorf("GET %s %s: %w", url, failure, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Outcome{Kind: KindNotFound, Status: resp.StatusCode, Err: &StatusError{URL: url, Status: resp.StatusCode}}
	case resp.StatusCode >= 500:
		return Outcome{Kind: KindTransient, Status: resp.StatusCode, Err: &StatusError{URL: url, Status: resp.StatusCode}}
	case resp.StatusCode >= 300:
		return Outcome{Kind: KindFatal, Status: resp.StatusCode, Err: &StatusError{URL: url, Status: resp.StatusCode}}
	}

	f.checkHeaders(resp, url)

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return Outcome{Kind: KindFatal, Err: fmt.Errorf("create download dir: %w", err)}
	}
	tmp, err := os.CreateTemp(f.Dir, "ru-*.pdf")
	if err != nil {
		return Outcome{Kind: KindFatal, Err: fmt.Errorf("create download file: %w", err)}
	}

	written, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmp.Name())
		var pathErr *os.PathError
		if errors.As(copyErr, &pathErr) {
			return Outcome{Kind: KindFatal, Err: fmt.Errorf("write download file: %w", copyErr)}
		}
		return Outcome{Kind: KindTransient, Status: resp.StatusCode, Err: fmt.Errorf("read body from %s: %w", url, copyErr)}
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return Outcome{Kind: KindFatal, Err: fmt.Errorf("close download file: %w", closeErr)}
	}

	if f.MinBytes > 0 && written < f.MinBytes {
		f.logger().WithFields(logrus.Fields{"url": url, "bytes": written}).Warn("download_size_suspicious")
	}

	return Outcome{Kind: KindOK, Path: tmp.Name(), Status: resp.StatusCode}
}

// checkHeaders 仅对可疑的 Content-Type/Content-Length 告警，不中断下载。
func (f *Fetcher) checkHeaders(resp *http.Response, url string) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "application/pdf" && mediaType != "application/octet-stream" && mediaType != "binary/octet-stream") {
			f.logger().WithFields(logrus.Fields{"url": url, "content_type": ct}).Warn("download_content_type_unexpected")
		}
	}
	if resp.ContentLength >= 0 {
		if (f.MinBytes > 0 && resp.ContentLength < f.MinBytes) || (f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes) {
			f.logger().WithFields(logrus.Fields{"url": url, "content_length": resp.ContentLength}).Warn("download_content_length_unexpected")
		}
	}
}

func (f *Fetcher) logger() *logrus.Logger {
	if f.Logger == nil {
		return logrus.StandardLogger()
	}
	return f.Logger
}
