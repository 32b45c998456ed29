package domain

import (
	"errors"
	"fmt"
)

// Базовые ошибки ядра синхронизации
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid oauth state")
	ErrExpiredState = errors.New("expired oauth state")
	ErrQueueFull    = errors.New("queue full")
)

// ExchangeError - отказ внешнего сервиса при обмене кода на токен
type ExchangeError struct {
	Provider IntegrationType
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("code exchange failed for %s: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// VaultError - ошибка шифрования или расшифровки секрета
// Отдельный тип, чтобы вызывающие не путали ее с ErrNotFound:
// сломанный ключ не означает "нужно переподключить интеграцию"
type VaultError struct {
	Op  string
	Err error
}

func (e *VaultError) Error() string {
	return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
}

func (e *VaultError) Unwrap() error {
	return e.Err
}

// ErrorClass - классификация ошибки внешнего сервиса
type ErrorClass string

const (
	ClassRetryable ErrorClass = "retryable"
	ClassAuth      ErrorClass = "auth"
	ClassFatal     ErrorClass = "fatal"
)

// ProviderError - ошибка вызова внешнего сервиса с известным классом
// Адаптеры оборачивают свои ошибки, чтобы Recovery не гадал по тексту
type ProviderError struct {
	Class ErrorClass
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewRetryableError оборачивает ошибку как повторяемую
func NewRetryableError(err error) *ProviderError {
	return &ProviderError{Class: ClassRetryable, Err: err}
}

// NewAuthError оборачивает ошибку как ошибку авторизации
func NewAuthError(err error) *ProviderError {
	return &ProviderError{Class: ClassAuth, Err: err}
}

// NewFatalError оборачивает ошибку как фатальную
func NewFatalError(err error) *ProviderError {
	return &ProviderError{Class: ClassFatal, Err: err}
}
