package llm

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	id     string
	output string
}

func (s *stubHandler) ID() string { return s.id }

func (s *stubHandler) Generate(_ context.Context, _ string, _ []Message, _ string) (string, error) {
	return s.output, nil
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := NewGateway([]Handler{
		&stubHandler{id: "openai", output: "from openai"},
		&stubHandler{id: "ollama", output: "from ollama"},
	}, "openai", log.New(io.Discard))
	require.NoError(t, err)
	return gw
}

func TestNewGateway_Validation(t *testing.T) {
	logger := log.New(io.Discard)

	_, err := NewGateway(nil, "", logger)
	assert.Error(t, err)

	_, err = NewGateway([]Handler{&stubHandler{id: "a"}, &stubHandler{id: "a"}}, "a", logger)
	assert.Error(t, err)

	_, err = NewGateway([]Handler{&stubHandler{id: "a"}}, "missing", logger)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGateway_DefaultsToFirstHandler(t *testing.T) {
	gw, err := NewGateway([]Handler{&stubHandler{id: "only"}}, "", log.New(io.Discard))
	require.NoError(t, err)
	assert.Equal(t, "only", gw.CurrentID())
}

func TestGateway_Switch(t *testing.T) {
	gw := newTestGateway(t)
	assert.Equal(t, "openai", gw.CurrentID())

	require.NoError(t, gw.Switch("ollama"))
	assert.Equal(t, "ollama", gw.CurrentID())

	out, err := gw.Current().Generate(context.Background(), "", nil, "q")
	require.NoError(t, err)
	assert.Equal(t, "from ollama", out)
}

func TestGateway_SwitchUnknown(t *testing.T) {
	gw := newTestGateway(t)
	err := gw.Switch("bedrock")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, "openai", gw.CurrentID())
}

func TestGateway_SwitchDoesNotAffectCapturedHandler(t *testing.T) {
	gw := newTestGateway(t)

	// A turn captures the handler once at dispatch time; a switch during the
	// turn must not redirect it.
	captured := gw.Current()
	require.NoError(t, gw.Switch("ollama"))

	out, err := captured.Generate(context.Background(), "", nil, "q")
	require.NoError(t, err)
	assert.Equal(t, "from openai", out)
}

func TestGateway_List(t *testing.T) {
	gw := newTestGateway(t)
	list := gw.List()
	require.Len(t, list, 2)
	assert.Equal(t, "ollama", list[0].ID)
	assert.False(t, list[0].Active)
	assert.Equal(t, "openai", list[1].ID)
	assert.True(t, list[1].Active)
}

func TestGateway_ConcurrentSwitchAndRead(t *testing.T) {
	gw := newTestGateway(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = gw.Switch("ollama")
			_ = gw.Switch("openai")
		}()
		go func() {
			defer wg.Done()
			_ = gw.Current()
			_ = gw.List()
		}()
	}
	wg.Wait()
}
