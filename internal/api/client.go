// Package api はソーシャルサービスのリモートREST APIクライアントを提供する。
// 一覧取得はGET、更新はフォームエンコードのPOSTで行い、全リクエストに
// ログインセッションのBearerトークンを付与する。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/socialsync/internal/model"
)

// Record はAPIが返すJSONオブジェクト1件。フィールドの形はエンドポイントごとに異なる。
type Record = map[string]any

// TokenSource はリクエストに付与するトークンと、401時のセッション破棄を提供する。
type TokenSource interface {
	Token() string
	Invalidate()
}

// Recorder はAPI呼び出しのメトリクス記録先。
type Recorder interface {
	RecordAPICall(endpoint string, statusCode int, duration time.Duration)
	RecordAPIError(endpoint string)
}

// Upload はマルチパートで送る画像ファイル。
type Upload struct {
	Filename string
	Data     []byte
}

// Client はリモートAPIのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	limiter    *rate.Limiter
	logger     *slog.Logger
	recorder   Recorder
}

// Option はClientの設定。
type Option func(*Client)

// WithRateLimit は送信リクエストのレートを制限する。
// rps が0以下の場合は制限しない。
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientのTimeoutが0の場合、リクエストはタイムアウトしない。
func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call は1回分のリクエスト情報。
type call struct {
	method   string
	endpoint string // メトリクス用のルートテンプレート
	path     string
	query    url.Values
	form     url.Values
	upload   *Upload
	uploadAs string
	token    string // 空の場合はTokenSourceから取得する
	what     string // エラーメッセージ用
	write    bool
}

// pathf はパスパラメータをエスケープしてパスを組み立てる。
func pathf(format string, params ...string) string {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = url.PathEscape(p)
	}
	return fmt.Sprintf(format, args...)
}

// do はリクエストを送信し、成功時のレスポンスボディを返す。
// 401の場合はセッションを破棄してErrUnauthorizedを返す。
func (c *Client) do(ctx context.Context, cl call) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.recorder != nil {
			c.recorder.RecordAPIError(cl.endpoint)
		}
		c.logger.Error("APIの呼び出しに失敗しました",
			slog.String("endpoint", cl.endpoint),
			slog.String("error", err.Error()),
		)
		return nil, c.failure(cl, 0, "", err)
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordAPICall(cl.endpoint, resp.StatusCode, time.Since(start))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.failure(cl, resp.StatusCode, "", fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("APIが401を返しました。セッションを破棄します",
			slog.String("endpoint", cl.endpoint),
		)
		if c.tokens != nil {
			c.tokens.Invalidate()
		}
		return nil, model.NewUnauthorizedError()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := errorDetail(body)
		c.logger.Warn("APIがエラーステータスを返しました",
			slog.String("endpoint", cl.endpoint),
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", detail),
		)
		return nil, c.failure(cl, resp.StatusCode, detail, fmt.Errorf("status %d", resp.StatusCode))
	}

	return body, nil
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case cl.upload != nil:
		buf, ct, err := multipartBody(cl.form, cl.uploadAs, cl.upload)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case cl.form != nil:
		body = strings.NewReader(cl.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "socialsync/1.0")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	token := cl.token
	if token == "" && c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func multipartBody(form url.Values, field string, up *Upload) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, vs := range form {
		for _, v := range vs {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", err
			}
		}
	}
	name := up.Filename
	if name == "" {
		name = field
	}
	part, err := w.CreateFormFile(field, name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) failure(cl call, status int, detail string, cause error) error {
	if cl.write {
		return model.NewMutationFailedError(cl.what, status, detail, cause)
	}
	return model.NewFetchFailedError(cl.what, status, detail, cause)
}

// errorDetail はエラーレスポンスから表示用の詳細を取り出す。
// {"detail": "..."} 形式ならその文字列、それ以外はボディ全体を返す。
func errorDetail(body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != nil {
		if s, ok := payload.Detail.(string); ok {
			return s
		}
		if b, err := json.Marshal(payload.Detail); err == nil {
			return string(b)
		}
	}
	return strings.TrimSpace(string(body))
}

// getJSON はGETの結果をoutにデコードする。
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, what string, out any) error {
	body, err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: endpoint,
		path:     path,
		query:    query,
		what:     what,
	})
	if err != nil {
		return err
	}
	return c.decode(body, what, out)
}

// postForm はフォームをPOSTし、レスポンスをoutにデコードする（outがnilなら捨てる）。
func (c *Client) postForm(ctx context.Context, endpoint, path string, form url.Values, what string, out any) error {
	body, err := c.do(ctx, call{
		method:   http.MethodPost,
		endpoint: endpoint,
		path:     path,
		form:     form,
		what:     what,
		write:    true,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.decode(body, what, out)
}

// mutateGET は副作用のあるGETエンドポイント（削除、フォロー等）を呼び出す。
func (c *Client) mutateGET(ctx context.Context, endpoint, path string, query url.Values, what string, out any) error {
	body, err := c.do(ctx, call{
		method:   http.MethodGet,
		endpoint: endpoint,
		path:     path,
		query:    query,
		what:     what,
		write:    true,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return c.decode(body, what, out)
}

func (c *Client) decode(body []byte, what string, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("APIレスポンスのパースに失敗しました",
			slog.String("what", what),
			slog.String("error", err.Error()),
		)
		return model.NewInvalidResponseError(what, err)
	}
	return nil
}

// IsNotFound はerrがリモートAPIの404かを返す。
func IsNotFound(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
