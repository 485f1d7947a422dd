// Пакет validation проверяет ответы инспекции по JSON Schema шаблона.
package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	schemaResourceURL  = "mem://fieldsync/responses.json"
	defaultSchemaCache = 128
)

// ResponsesValidator компилирует схемы шаблонов и проверяет по ним ответы.
// Скомпилированные схемы кэшируются по хешу содержимого.
type ResponsesValidator struct {
	compiled *lru.Cache[string, *jsonschema.Schema]
}

// NewResponsesValidator создает валидатор с кэшем на size схем.
func NewResponsesValidator(size int) (*ResponsesValidator, error) {
	if size <= 0 {
		size = defaultSchemaCache
	}
	cache, err := lru.New[string, *jsonschema.Schema](size)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кэша схем: %w", err)
	}
	return &ResponsesValidator{compiled: cache}, nil
}

// CheckSchema проверяет, что документ является корректной JSON Schema.
// Пустая схема допустима и означает отсутствие ограничений.
func (v *ResponsesValidator) CheckSchema(schema json.RawMessage) error {
	if isEmptySchema(schema) {
		return nil
	}
	_, err := v.schemaFor(schema)
	return err
}

// Validate проверяет responses по schema. Пустая схема пропускает любой объект.
func (v *ResponsesValidator) Validate(schema, responses json.RawMessage) error {
	if isEmptySchema(schema) {
		return nil
	}
	sch, err := v.schemaFor(schema)
	if err != nil {
		return err
	}

	if len(responses) == 0 {
		responses = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(responses))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponses, err)
	}

	if err = sch.Validate(inst); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ResponsesError{Detail: verr.Error()}
		}
		return fmt.Errorf("ошибка проверки ответов: %w", err)
	}
	return nil
}

func (v *ResponsesValidator) schemaFor(schema json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schema)
	key := hex.EncodeToString(sum[:])
	if sch, ok := v.compiled.Get(key); ok {
		return sch, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	c := jsonschema.NewCompiler()
	if err = c.AddResource(schemaResourceURL, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	sch, err := c.Compile(schemaResourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	v.compiled.Add(key, sch)
	return sch, nil
}

func isEmptySchema(schema json.RawMessage) bool {
	trimmed := bytes.TrimSpace(schema)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null"))
}

// ResponsesError - ответы не соответствуют схеме шаблона.
type ResponsesError struct {
	Detail string
}

func (e *ResponsesError) Error() string {
	return "ответы не соответствуют схеме шаблона: " + e.Detail
}

// Ошибки валидации.
var (
	ErrInvalidSchema      = errors.New("некорректная JSON Schema шаблона")
	ErrMalformedResponses = errors.New("ответы не являются корректным JSON")
)
