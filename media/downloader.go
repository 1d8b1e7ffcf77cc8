package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/go-catalog-migrator/config"
	"github.com/gocolly/colly/v2"
)

// ErrTooLarge is returned for assets above the configured size ceiling.
var ErrTooLarge = errors.New("media: asset exceeds size limit")

const (
	ctxBody        = "body"
	ctxContentType = "content_type"
)

// download is one fetched asset body.
type download struct {
	data        []byte
	contentType string
}

// downloader fetches binary assets through a colly collector. The body limit
// is one byte above MaxBytes so an oversized asset is detected instead of
// being silently truncated.
type downloader struct {
	collector *colly.Collector
	maxBytes  int64
}

func newDownloader(cfg config.MediaConfig, userAgent string, rt http.RoundTripper) *downloader {
	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(int(cfg.MaxBytes)+1),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	if rt == nil {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(rt)

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxBody, r.Body)
		if r.Headers != nil {
			r.Ctx.Put(ctxContentType, r.Headers.Get("Content-Type"))
		}
	})

	return &downloader{collector: collector, maxBytes: cfg.MaxBytes}
}

func (d *downloader) fetch(ctx context.Context, rawURL string) (download, error) {
	if err := ctx.Err(); err != nil {
		return download{}, err
	}

	cctx := colly.NewContext()
	if err := d.collector.Request(http.MethodGet, rawURL, nil, cctx, nil); err != nil {
		return download{}, fmt.Errorf("download %s: %w", rawURL, err)
	}

	data, _ := cctx.GetAny(ctxBody).([]byte)
	if len(data) == 0 {
		return download{}, fmt.Errorf("download %s: empty body", rawURL)
	}
	if int64(len(data)) > d.maxBytes {
		return download{}, fmt.Errorf("download %s: %w", rawURL, ErrTooLarge)
	}
	contentType, _ := cctx.GetAny(ctxContentType).(string)
	return download{data: data, contentType: contentType}, nil
}
