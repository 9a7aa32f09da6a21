package failover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opnxt/pkg/llm"
	"opnxt/pkg/llmerrors"
)

func unavailable() error {
	return llmerrors.NewUnavailableError(llmerrors.NewError(llmerrors.ErrorTypeTimeout, "timeout"), 3)
}

func TestSecondaryAnswersWhenPrimaryExhausted(t *testing.T) {
	primary := llm.NewMockGenerator("anthropic", llm.MockStep{Err: unavailable()})
	secondary := llm.NewMockGenerator("openai", llm.MockStep{Text: "# Doc"})

	resp, err := New(nil, nil, primary, secondary).Generate(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "# Doc", resp.Text)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 1, primary.Calls())
}

func TestSingleProviderKeepsUnavailable(t *testing.T) {
	primary := llm.NewMockGenerator("anthropic", llm.MockStep{Err: unavailable()})

	_, err := New(nil, nil, primary).Generate(context.Background(), llm.Request{})
	assert.True(t, llmerrors.IsUnavailable(err))
}

func TestAllProvidersFail(t *testing.T) {
	a := llm.NewMockGenerator("a", llm.MockStep{Err: unavailable()})
	b := llm.NewMockGenerator("b", llm.MockStep{Err: llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")})

	_, err := New(nil, nil, a, b).Generate(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.True(t, llmerrors.IsUnavailable(err))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeUnavailable))
}

func TestPreferredProviderGoesFirst(t *testing.T) {
	a := llm.NewMockGenerator("a", llm.MockStep{Text: "from a"})
	b := llm.NewMockGenerator("b", llm.MockStep{Text: "from b"})

	resp, err := New(nil, nil, a, b).Generate(context.Background(), llm.Request{Profile: llm.Profile{Provider: "b"}})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Text)
	assert.Equal(t, 0, a.Calls())
}

func TestCancellationStopsFailover(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := llm.NewMockGenerator("a")
	a.Fallback = func(context.Context, llm.Request) (llm.Response, error) {
		cancel()
		return llm.Response{}, context.Canceled
	}
	b := llm.NewMockGenerator("b", llm.MockStep{Text: "never"})

	_, err := New(nil, nil, a, b).Generate(ctx, llm.Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Calls())
}
