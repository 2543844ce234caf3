// Package remote talks to the external record service over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qms/qalert/internal/models"
	"qms/qalert/internal/store"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Store struct {
	client *resty.Client
}

func New(cfg Config) *Store {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Store{client: client}
}

type statusUpdate struct {
	Status string `json:"status"`
}

type rejection struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Error   *struct {
		Field   string `json:"field"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Store) ListEntries(ctx context.Context) ([]models.QueueEntry, error) {
	body, err := s.do(ctx, http.MethodGet, "/entries", nil)
	if err != nil {
		return nil, err
	}
	return store.DecodeEntries(body)
}

func (s *Store) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	body, err := s.do(ctx, http.MethodGet, "/subjects", nil)
	if err != nil {
		return nil, err
	}
	return store.DecodeSubjects(body)
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	body, err := s.do(ctx, http.MethodPost, "/entries", input)
	if err != nil {
		return models.QueueEntry{}, err
	}
	return store.DecodeEntry(body)
}

func (s *Store) UpdateStatus(ctx context.Context, entryID, status string) (models.QueueEntry, error) {
	body, err := s.do(ctx, http.MethodPatch, "/entries/"+url.PathEscape(entryID), statusUpdate{Status: status})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return store.DecodeEntry(body)
}

func (s *Store) UpdateReason(ctx context.Context, entryID string, input store.UpdateReasonInput) (models.QueueEntry, error) {
	body, err := s.do(ctx, http.MethodPatch, "/entries/"+url.PathEscape(entryID), input)
	if err != nil {
		return models.QueueEntry{}, err
	}
	return store.DecodeEntry(body)
}

// Ping checks that the record service answers at all.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, "/subjects", nil)
	return err
}

func (s *Store) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	req := s.client.R().SetContext(ctx)
	if payload != nil {
		req.SetBody(payload)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, transportError(err)
	}
	if resp.IsError() {
		return nil, statusError(resp.StatusCode(), resp.Body())
	}
	return resp.Body(), nil
}

// Any failure to get a response at all counts as a network failure.
func transportError(err error) error {
	return fmt.Errorf("%w: %v", store.ErrNetworkFailure, err)
}

func statusError(code int, body []byte) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: record service returned %d", store.ErrNotAuthenticated, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: record service returned %d", store.ErrEntryNotFound, code)
	case code == http.StatusConflict:
		return fmt.Errorf("%w: record service returned %d", store.ErrAdmissionConflict, code)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		field, message := parseRejection(body)
		return store.ValidationRejected(field, message)
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: record service returned %d", store.ErrNetworkFailure, code)
	default:
		return fmt.Errorf("%w: unexpected status %d", store.ErrMalformedResponse, code)
	}
}

func parseRejection(body []byte) (string, string) {
	var r rejection
	if err := json.Unmarshal(body, &r); err != nil {
		return "", strings.TrimSpace(string(body))
	}
	if r.Error != nil {
		field := r.Error.Field
		if field == "" {
			field = r.Error.Code
		}
		return field, r.Error.Message
	}
	return r.Field, r.Message
}
