package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpClient HTTP 客户端封装
type httpClient struct {
	client *http.Client
	host   string
}

// newHTTPClient 创建新的 HTTP 客户端
func newHTTPClient(host string) *httpClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &httpClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		host: strings.TrimSuffix(host, "/"),
	}
}

// get 执行 GET 请求
func (h *httpClient) get(ctx context.Context, endpoint string, headers map[string]string, params map[string]string) (*http.Response, error) {
	reqURL := h.host + endpoint
	if len(params) > 0 {
		u, err := url.Parse(reqURL)
		if err != nil {
			return nil, fmt.Errorf("解析 URL 失败: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	h.setDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	return resp, nil
}

// post 执行 POST 请求
func (h *httpClient) post(ctx context.Context, endpoint string, headers map[string]string, body interface{}) (*http.Response, error) {
	reqURL := h.host + endpoint

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	h.setDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	return resp, nil
}

// delete 执行 DELETE 请求
func (h *httpClient) delete(ctx context.Context, endpoint string, headers map[string]string, body interface{}) (*http.Response, error) {
	reqURL := h.host + endpoint

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	h.setDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, NewNetworkError(err)
	}
	return resp, nil
}

// setDefaultHeaders 设置默认请求头
func (h *httpClient) setDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "pmbot-clob")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Content-Type", "application/json")

	if req.Method == http.MethodGet {
		req.Header.Set("Accept-Encoding", "gzip")
	}
}

// parseResponse 解析响应，非 2xx 时返回分类后的 APIError
func parseResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("创建 gzip 读取器失败: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	bodyBytes, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyResponse(resp.StatusCode, string(bodyBytes))
	}

	if result != nil {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			return fmt.Errorf("解析响应失败: %w, 响应体: %s", err, string(bodyBytes))
		}
	}

	return nil
}
