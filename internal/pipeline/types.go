package pipeline

import (
	"context"
	"strings"
)

// Scope identifies one watched project/repository pair.
type Scope struct {
	Project string `json:"project"`
	Repo    string `json:"repo"`
}

// String renders the scope as PROJECT/repo.
func (s Scope) String() string {
	return strings.ToUpper(strings.TrimSpace(s.Project)) + "/" + strings.ToLower(strings.TrimSpace(s.Repo))
}

func (s Scope) IsZero() bool {
	return strings.TrimSpace(s.Project) == "" && strings.TrimSpace(s.Repo) == ""
}

// Retriever returns the full current snapshot of records for a scope.
// Errors are treated as transient.
type Retriever[T any] interface {
	Retrieve(ctx context.Context, scope Scope) ([]T, error)
}

// Notifier delivers one record downstream. Each call is one attempt.
type Notifier[T any] interface {
	Notify(ctx context.Context, item T) error
}

type RetrieverFunc[T any] func(ctx context.Context, scope Scope) ([]T, error)

func (f RetrieverFunc[T]) Retrieve(ctx context.Context, scope Scope) ([]T, error) {
	return f(ctx, scope)
}

type NotifierFunc[T any] func(ctx context.Context, item T) error

func (f NotifierFunc[T]) Notify(ctx context.Context, item T) error { return f(ctx, item) }
