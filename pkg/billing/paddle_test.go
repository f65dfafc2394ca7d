package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPaddleErr(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, classifyPaddleErr(nil))
	})

	t.Run("request error is a permanent rejection", func(t *testing.T) {
		t.Parallel()
		src := &paddleerr.Error{
			Type:   paddleerr.ErrorTypeRequestError,
			Code:   "subscription_not_found",
			Detail: "subscription does not exist",
		}
		err := classifyPaddleErr(fmt.Errorf("get subscription: %w", src))
		assert.ErrorIs(t, err, ErrProviderRejected)
		assert.NotErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("api error is transient", func(t *testing.T) {
		t.Parallel()
		src := &paddleerr.Error{
			Type: paddleerr.ErrorTypeAPIError,
			Code: "internal_error",
		}
		err := classifyPaddleErr(src)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
		assert.NotErrorIs(t, err, ErrProviderRejected)
	})

	t.Run("timeout is transient", func(t *testing.T) {
		t.Parallel()
		err := classifyPaddleErr(context.DeadlineExceeded)
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("unrecognized error is transient", func(t *testing.T) {
		t.Parallel()
		err := classifyPaddleErr(errors.New("connection reset"))
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})
}
