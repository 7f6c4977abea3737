// Package backoffice is the REST client for the back office deposit listing.
package backoffice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bowatch/bowatch/internal/domain/credential"
	"github.com/bowatch/bowatch/internal/domain/notification"
	"github.com/bowatch/bowatch/internal/shared/biztime"
	"github.com/bowatch/bowatch/internal/shared/logger"
	"github.com/bowatch/bowatch/internal/shared/utils/logutil"
)

const (
	maxResponseSize   = 8 << 20
	defaultDateLayout = "02-01-06 - 15:04:05"
)

var ErrNoAuthToken = errors.New("back office auth token is not set")

// APIError is a failed deposit call: transport, HTTP status or an error
// flagged inside the response envelope.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("back office api: status=%d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("back office api: %v", e.Err)
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("back office api: status=%d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("back office api: status=%d", e.StatusCode)
	default:
		return fmt.Sprintf("back office api: %s", e.Message)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether the back office rejected the auth token.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

type CredentialSource interface {
	Get() credential.Credentials
}

type Config struct {
	Endpoint   string
	Timeout    time.Duration
	DateLayout string
	Origin     string
	UserAgent  string
}

type Client struct {
	cfg        Config
	creds      CredentialSource
	httpClient *http.Client
	logger     logger.Interface
}

func NewClient(cfg Config, creds CredentialSource, log logger.Interface) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = defaultDateLayout
	}
	return &Client{
		cfg:        cfg,
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.Named("backoffice"),
	}
}

type depositQuery struct {
	FromDate   string `json:"FromDate"`
	ToDate     string `json:"ToDate"`
	WithTotals bool   `json:"WithTotals"`
}

// envelope covers both shapes the API answers with: the listing either sits
// at the top level or inside Data.
type envelope struct {
	HasError     bool            `json:"HasError"`
	AlertType    string          `json:"AlertType"`
	AlertMessage string          `json:"AlertMessage"`
	Data         json.RawMessage `json:"Data"`
	Objects      json.RawMessage `json:"Objects"`
}

type listing struct {
	Objects []json.RawMessage `json:"Objects"`
}

// ListDepositRequests returns the deposit requests created between from and
// to, both rendered in the business timezone.
func (c *Client) ListDepositRequests(ctx context.Context, from, to time.Time) ([]notification.DepositObject, error) {
	creds := c.creds.Get()
	if creds.AuthToken == "" {
		return nil, &APIError{Err: ErrNoAuthToken}
	}

	body, err := json.Marshal(depositQuery{
		FromDate:   from.In(biztime.Location()).Format(c.cfg.DateLayout),
		ToDate:     to.In(biztime.Location()).Format(c.cfg.DateLayout),
		WithTotals: true,
	})
	if err != nil {
		return nil, &APIError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authentication", creds.AuthToken)
	if creds.Cookie != "" {
		req.Header.Set("Cookie", creds.Cookie)
	}
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: logutil.TruncateForLog(string(raw), 200)}
	}

	objects, err := decodeDeposits(raw, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Debugw("deposit requests fetched", "count", len(objects))
	return objects, nil
}

// decodeDeposits fails only when the envelope itself is unusable. Rows that
// do not decode are logged and skipped so one bad row cannot block the rest.
func decodeDeposits(raw []byte, log logger.Interface) ([]notification.DepositObject, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.HasError {
		return nil, &APIError{StatusCode: http.StatusOK, Message: env.AlertMessage}
	}

	rows, err := extractRows(env)
	if err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Err: err}
	}

	out := make([]notification.DepositObject, 0, len(rows))
	for _, row := range rows {
		var obj notification.DepositObject
		if err := json.Unmarshal(row, &obj); err != nil {
			log.Warnw("skipping undecodable deposit row",
				"error", err,
				"row", logutil.TruncateForLog(string(row), 300),
			)
			continue
		}
		obj.Raw = row
		out = append(out, obj)
	}
	return out, nil
}

func extractRows(env envelope) ([]json.RawMessage, error) {
	if isPresent(env.Objects) {
		var rows []json.RawMessage
		if err := json.Unmarshal(env.Objects, &rows); err != nil {
			return nil, fmt.Errorf("decode Objects: %w", err)
		}
		return rows, nil
	}
	if !isPresent(env.Data) {
		return nil, nil
	}

	data := bytes.TrimSpace(env.Data)
	if data[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode Data: %w", err)
		}
		return rows, nil
	}
	var l listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode Data.Objects: %w", err)
	}
	return l.Objects, nil
}

func isPresent(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
