package tesseract

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/scanpipe/internal/core/domain"
)

// Ensure mockRunner implements the interface.
var _ CommandRunner = (*mockRunner)(nil)

type mockRunner struct {
	name   string
	args   []string
	image  image.Image
	stdout string
	stderr string
	err    error
	block  bool
}

func (m *mockRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	m.name = name
	m.args = args
	img, err := png.Decode(stdin)
	if err != nil {
		return nil, nil, err
	}
	m.image = img
	if m.block {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	}
	return []byte(m.stdout), []byte(m.stderr), m.err
}

func testImage() image.Image {
	return image.NewGray(image.Rect(0, 0, 40, 60))
}

func TestEngine_Recognize(t *testing.T) {
	runner := &mockRunner{stdout: "  ACME GmbH\nRechnung 42\n\n"}
	engine := New(Config{Language: "deu+eng", PageSegMode: 3}, runner)

	text, err := engine.Recognize(context.Background(), testImage())

	require.NoError(t, err)
	assert.Equal(t, "ACME GmbH\nRechnung 42", text)
	assert.Equal(t, "tesseract", runner.name)
	assert.Equal(t, []string{"stdin", "stdout", "-l", "deu+eng", "--psm", "3"}, runner.args)
	require.NotNil(t, runner.image)
	assert.Equal(t, 40, runner.image.Bounds().Dx())
	assert.Equal(t, "tesseract", engine.Name())
}

func TestEngine_Recognize_Errors(t *testing.T) {
	t.Run("process failure reports stderr", func(t *testing.T) {
		runner := &mockRunner{err: errors.New("exit status 1"), stderr: "Failed loading language 'xx'"}
		engine := New(Config{Binary: "/opt/tess", Language: "xx"}, runner)

		_, err := engine.Recognize(context.Background(), testImage())

		require.ErrorIs(t, err, domain.ErrExtractionFailed)
		assert.Contains(t, err.Error(), "Failed loading language")
		assert.Equal(t, "/opt/tess", runner.name)
	})

	t.Run("deadline is a timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		engine := New(Config{}, &mockRunner{block: true})

		_, err := engine.Recognize(ctx, testImage())

		require.ErrorIs(t, err, domain.ErrExtractionTimeout)
	})

	t.Run("nil image", func(t *testing.T) {
		_, err := New(Config{}, &mockRunner{}).Recognize(context.Background(), nil)

		require.ErrorIs(t, err, domain.ErrExtractionFailed)
	})
}

func TestEngine_DefaultArgs(t *testing.T) {
	assert.Equal(t, []string{"stdin", "stdout"}, New(Config{}, nil).args())
}
