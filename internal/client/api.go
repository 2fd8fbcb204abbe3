package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WireMessage is one entry of a getmessage response.
type WireMessage struct {
	ID        string    `json:"_id"`
	FromSelf  bool      `json:"fromSelf"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsDeleted bool      `json:"isDeleted"`
}

type DeleteResult struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Msg)
}

type APIConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// API calls the message endpoints.
type API struct {
	http *http.Client
	conf APIConfig
}

func NewAPI(conf APIConfig) *API {
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.RetryMaxElapsed <= 0 {
		conf.RetryMaxElapsed = 5 * time.Second
	}
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	conf.BaseURL = strings.TrimRight(conf.BaseURL, "/")
	return &API{
		http: &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf: conf,
	}
}

// GetMessages is a read, so transport failures and 5xx responses are
// retried with exponential backoff.
func (a *API) GetMessages(ctx context.Context, from, to string) ([]WireMessage, error) {
	var out []WireMessage
	op := func() error {
		err := a.post(ctx, "/api/messages/getmessage", map[string]string{"from": from, "to": to}, &out)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.conf.RetryMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

// HasHistory reports whether from and to exchanged any message. Retried
// like GetMessages.
func (a *API) HasHistory(ctx context.Context, from, to string) (bool, error) {
	var out struct {
		HasHistory bool `json:"hasHistory"`
	}
	op := func() error {
		err := a.post(ctx, "/api/messages/hashistory", map[string]string{"from": from, "to": to}, &out)
		var se *StatusError
		if errors.As(err, &se) && se.Code < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = a.conf.RetryMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return false, err
	}
	return out.HasHistory, nil
}

// AddMessage returns the server id, which is empty when the server did not
// report one.
func (a *API) AddMessage(ctx context.Context, from, to, text string, at time.Time) (string, error) {
	var res struct {
		Msg       string `json:"msg"`
		MessageID string `json:"messageId"`
	}
	body := map[string]string{
		"from":      from,
		"to":        to,
		"message":   text,
		"timestamp": at.UTC().Format(time.RFC3339Nano),
	}
	if err := a.post(ctx, "/api/messages/addmessage", body, &res); err != nil {
		return "", err
	}
	return res.MessageID, nil
}

func (a *API) DeleteMessage(ctx context.Context, id string, markAsDeleted bool) (DeleteResult, error) {
	var res DeleteResult
	err := a.post(ctx, "/api/messages/deletemessage", map[string]any{"messageId": id, "markAsDeleted": markAsDeleted}, &res)
	return res, err
}

func (a *API) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.conf.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e DeleteResult
		_ = json.Unmarshal(data, &e)
		if e.Msg == "" {
			e.Msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{Code: resp.StatusCode, Msg: e.Msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
