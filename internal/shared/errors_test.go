package shared

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorSentinels(t *testing.T) {
	t.Run("wrapped sentinels match with errors.Is", func(t *testing.T) {
		err := fmt.Errorf("%w: refresh rejected", ErrReconnectRequired)
		if !errors.Is(err, ErrReconnectRequired) {
			t.Errorf("expected wrapped error to match ErrReconnectRequired")
		}
		if errors.Is(err, ErrTransient) {
			t.Errorf("did not expect wrapped error to match ErrTransient")
		}
	})

	t.Run("sentinels are distinct", func(t *testing.T) {
		all := []error{
			ErrInvalidState, ErrMissingCode, ErrAuthFailed, ErrReconnectRequired,
			ErrNotConnected, ErrTransient, ErrRateLimited, ErrAPIRequest, ErrPersistence,
			ErrInvalidInput, ErrInvalidConfig,
		}
		for i := range all {
			for j := range all {
				if i != j && errors.Is(all[i], all[j]) {
					t.Errorf("%v should not match %v", all[i], all[j])
				}
			}
		}
	})
}
