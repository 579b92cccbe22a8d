package pipeline

import "fmt"

// RetrievalError aborts a cycle before the store is touched.
type RetrievalError struct {
	Scope Scope
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.Scope, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// StoreError wraps a failed store operation. Op is list, create or delete.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotifyError is a failed delivery for one record.
type NotifyError struct {
	Key string
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Key, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }
