package browser

import (
	"errors"
	"fmt"

	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

const keyBinding = "gridfillKey"

// WatchKeys calls fn with the key of every keydown on the page, including after reloads.
// The returned stop function removes the binding.
func (s *Session) WatchKeys(fn func(key string)) (stop func() error, err error) {
	unbind, err := s.page.Expose(keyBinding, func(j gson.JSON) (interface{}, error) {
		key := j.Str()
		s.logger.Debug("key pressed on page", zap.String("key", key))
		fn(key)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("exposing key binding: %w", err)
	}

	listener := fmt.Sprintf("(%s)(%q)", jsKeyListener, keyBinding)
	remove, err := s.page.EvalOnNewDocument(listener)
	if err != nil {
		_ = unbind()
		return nil, fmt.Errorf("installing key listener: %w", err)
	}
	if _, err := s.page.Eval(jsKeyListener, keyBinding); err != nil {
		_ = remove()
		_ = unbind()
		return nil, fmt.Errorf("installing key listener: %w", err)
	}

	return func() error {
		return errors.Join(remove(), unbind())
	}, nil
}
