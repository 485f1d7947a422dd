// Package client - HTTP-клиент API fieldsync для офлайн-клиентов:
// отправка мутаций с ключом идемпотентности и пакетная синхронизация очереди.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	dto "github.com/maynagashev/fieldsync/models"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	defaultTimeout       = 30 * time.Second
)

// ErrAuthorization сигнализирует об ошибке авторизации (401).
var ErrAuthorization = errors.New("ошибка авторизации")

// APIError - ошибка, возвращенная сервером в теле {"error":{"code","message"}}.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ошибка API (статус %d, код %s): %s", e.StatusCode, e.Code, e.Message)
}

// ConflictError - версия клиента устарела. ServerData содержит актуальный снимок
// для слияния на стороне клиента.
type ConflictError struct {
	dto.ConflictResponse
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("конфликт версий: версия клиента %d, версия сервера %d", e.ClientVersion, e.ServerVersion)
}

// MutationResult - результат мутации. Replayed=true, если сервер вернул
// сохраненный результат по ключу идемпотентности.
type MutationResult struct {
	dto.OperationResult
	Replayed bool
}

// Client определяет интерфейс для взаимодействия с API сервера fieldsync.
type Client interface {
	// Login аутентифицирует пользователя и сохраняет токен для последующих запросов.
	Login(ctx context.Context, email, password string) (*dto.LoginResponse, error)
	// CreateInspection создает инспекцию. key - ключ идемпотентности операции.
	CreateInspection(ctx context.Context, key string, req dto.CreateInspectionRequest) (*MutationResult, error)
	// UpdateInspection применяет частичное изменение. При расхождении версий возвращает *ConflictError.
	UpdateInspection(ctx context.Context, key, id string, req dto.UpdateInspectionRequest) (*MutationResult, error)
	// DeleteInspection мягко удаляет черновик. version=nil отключает сверку версии.
	DeleteInspection(ctx context.Context, key, id string, version *int64) error
	// SyncBatch отправляет накопленные офлайн операции одним пакетом.
	SyncBatch(ctx context.Context, ops []dto.BatchOperation) (*dto.BatchResponse, error)
	// ResolveConflict отмечает конфликт разрешенным.
	ResolveConflict(ctx context.Context, conflictID int64, strategy string) error
	// SetAuthToken устанавливает JWT токен для аутентифицированных запросов.
	SetAuthToken(token string)
}

// httpClient реализует Client поверх HTTP.
type httpClient struct {
	baseURL    string
	httpClient *http.Client
	authToken  string
}

// NewHTTPClient создает новый экземпляр API клиента.
func NewHTTPClient(baseURL string) Client {
	return &httpClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewBatchOperation упаковывает данные операции для пакетной синхронизации.
func NewBatchOperation(operationType, key string, data any) (dto.BatchOperation, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return dto.BatchOperation{}, fmt.Errorf("ошибка кодирования операции %s: %w", operationType, err)
	}
	return dto.BatchOperation{OperationType: operationType, IdempotencyKey: key, Data: raw}, nil
}

// SetAuthToken устанавливает JWT токен.
func (c *httpClient) SetAuthToken(token string) {
	c.authToken = token
}

// Login отправляет запрос на вход и сохраняет токен.
func (c *httpClient) Login(ctx context.Context, email, password string) (*dto.LoginResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", dto.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}
	var out dto.LoginResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ошибка декодирования ответа входа: %w", err)
	}
	if out.Token == "" {
		return nil, errors.New("сервер не вернул токен")
	}
	c.authToken = out.Token
	return &out, nil
}

// CreateInspection отправляет POST /api/inspections.
func (c *httpClient) CreateInspection(
	ctx context.Context,
	key string,
	req dto.CreateInspectionRequest,
) (*MutationResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/inspections", key, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, readError(resp)
	}
	return decodeMutation(resp)
}

// UpdateInspection отправляет PATCH /api/inspections/{id}.
func (c *httpClient) UpdateInspection(
	ctx context.Context,
	key, id string,
	req dto.UpdateInspectionRequest,
) (*MutationResult, error) {
	resp, err := c.do(ctx, http.MethodPatch, "/api/inspections/"+url.PathEscape(id), key, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeMutation(resp)
	case http.StatusConflict:
		var conflict dto.ConflictResponse
		body, _ := io.ReadAll(resp.Body)
		// DUPLICATE_ID приходит в общем формате ошибки, без client_version.
		if err = json.Unmarshal(body, &conflict); err == nil && conflict.Error == "conflict" {
			return nil, &ConflictError{ConflictResponse: conflict}
		}
		return nil, parseError(resp.StatusCode, body)
	}
	return nil, readError(resp)
}

// DeleteInspection отправляет DELETE /api/inspections/{id}.
func (c *httpClient) DeleteInspection(ctx context.Context, key, id string, version *int64) error {
	path := "/api/inspections/" + url.PathEscape(id)
	if version != nil {
		path += "?version=" + strconv.FormatInt(*version, 10)
	}
	resp, err := c.do(ctx, http.MethodDelete, path, key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return readError(resp)
	}
	return nil
}

// SyncBatch отправляет POST /api/sync/batch. Статусы 200 и 207 - успешная обработка пакета,
// результат каждой операции - в BatchResponse.Results.
func (c *httpClient) SyncBatch(ctx context.Context, ops []dto.BatchOperation) (*dto.BatchResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/sync/batch", "", dto.BatchRequest{Operations: ops})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, readError(resp)
	}
	var out dto.BatchResponse
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ошибка декодирования результата пакета: %w", err)
	}
	return &out, nil
}

// ResolveConflict отправляет POST /api/sync/conflicts/{id}/resolve.
func (c *httpClient) ResolveConflict(ctx context.Context, conflictID int64, strategy string) error {
	path := "/api/sync/conflicts/" + strconv.FormatInt(conflictID, 10) + "/resolve"
	resp, err := c.do(ctx, http.MethodPost, path, "", dto.ResolveConflictRequest{Strategy: strategy})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}
	return nil
}

// do выполняет запрос с JSON-телом, токеном и ключом идемпотентности.
func (c *httpClient) do(ctx context.Context, method, path, key string, body any) (*http.Response, error) {
	target := strings.TrimRight(c.baseURL, "/") + path

	var reader io.Reader
	if body != nil {
		data, mErr := json.Marshal(body)
		if mErr != nil {
			return nil, fmt.Errorf("ошибка кодирования тела запроса: %w", mErr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeMutation(resp *http.Response) (*MutationResult, error) {
	var out MutationResult
	if err := json.NewDecoder(resp.Body).Decode(&out.OperationResult); err != nil {
		return nil, fmt.Errorf("ошибка декодирования результата операции: %w", err)
	}
	out.Replayed = resp.Header.Get(replayedHeader) == "true"
	return &out, nil
}

// readError читает тело ответа с ошибкой.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return parseError(resp.StatusCode, body)
}

func parseError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return ErrAuthorization
	}
	var envelope struct {
		Error dto.ErrorDetail `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == "" {
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
	return &APIError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
}
