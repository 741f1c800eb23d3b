package upstream

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"omni2api-go/internal/constants"
)

// Transports are shared per proxy URL so connection pools survive across
// requests and providers.
var (
	transportMu    sync.Mutex
	transportCache = map[string]*http.Transport{}
)

func transportFor(proxyURL string) (*http.Transport, error) {
	transportMu.Lock()
	defer transportMu.Unlock()
	if tr, ok := transportCache[proxyURL]; ok {
		return tr, nil
	}

	proxyFunc := http.ProxyFromEnvironment
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("upstream: parse proxy url: %w", err)
		}
		switch parsed.Scheme {
		case "http", "https", "socks5", "socks5h":
			proxyFunc = http.ProxyURL(parsed)
		default:
			return nil, fmt.Errorf("upstream: unsupported proxy scheme %q (want http, https or socks5)", parsed.Scheme)
		}
	}

	tr := &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   constants.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: constants.TLSHandshakeTimeout,
		MaxIdleConns:        constants.DefaultMaxIdleConns,
		MaxIdleConnsPerHost: constants.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	transportCache[proxyURL] = tr
	return tr, nil
}

// NewClient builds an HTTP client for upstream calls. Streaming clients get
// no overall deadline; reads are bounded by the caller's context instead.
func NewClient(proxyURL string, stream bool) (*http.Client, error) {
	tr, err := transportFor(proxyURL)
	if err != nil {
		return nil, err
	}
	timeout := constants.NonStreamTimeout
	if stream {
		timeout = 0
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// ReadAll drains and closes a response body.
func ReadAll(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// DrainLimited reads at most limit bytes from the body and closes it. Used
// for error payloads where unbounded reads are a liability.
func DrainLimited(body io.ReadCloser, limit int64) []byte {
	if body == nil {
		return nil
	}
	defer body.Close()
	data, _ := io.ReadAll(io.LimitReader(body, limit))
	return data
}
