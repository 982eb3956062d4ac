package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/types"
)

// Handler runs one task. The returned string is stored as the task result.
type Handler func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (string, error)

// Registry resolves "module.method" names to handlers at run time
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task name, replacing any previous binding
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler bound to name
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names lists the registered task names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}

// Int64Arg reads an integer keyword argument. Stored params come back from
// JSON, so numbers arrive as float64 or json.Number.
func Int64Arg(kwargs map[string]interface{}, key string) (int64, error) {
	v, ok := kwargs[key]
	if !ok || v == nil {
		return 0, apperrors.NewValidationError(key, "missing task argument")
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, apperrors.NewValidationError(key, fmt.Sprintf("not an integer: %v", n))
		}
		return int64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, apperrors.NewValidationError(key, err.Error())
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, apperrors.NewValidationError(key, err.Error())
		}
		return i, nil
	default:
		return 0, apperrors.NewValidationError(key, fmt.Sprintf("unexpected type %T", v))
	}
}

// DayArg reads a YYYY-MM-DD keyword argument
func DayArg(kwargs map[string]interface{}, key string) (time.Time, error) {
	s, ok := kwargs[key].(string)
	if !ok {
		return time.Time{}, apperrors.NewValidationError(key, "missing task argument")
	}
	day, err := types.ParseDay(s)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(key, err.Error())
	}
	return day, nil
}
