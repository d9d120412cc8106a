package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMenuEntryString(t *testing.T) {
	e := MenuEntry{Type: TypeMenu, Display: "Subdir", Selector: "/sub/", Host: "localhost", Port: 70}
	assert.Equal(t, "1Subdir\t/sub/\tlocalhost\t70\r\n", e.String())

	assert.Equal(t, "iWelcome\t\tnull.host\t1\r\n", InfoLine("Welcome").String())
}

func TestItemTypeClasses(t *testing.T) {
	assert.True(t, TypeMenu.IsMenu())
	assert.True(t, TypeQuery.IsMenu())
	assert.False(t, TypeText.IsMenu())
	assert.True(t, TypeGIF.IsImage())
	assert.True(t, TypeImage.IsImage())
	assert.False(t, TypeHTML.IsImage())
}

func TestGopherErrorCodes(t *testing.T) {
	t.Run("MessagesMatchWireText", func(t *testing.T) {
		assert.Equal(t, "Access denied!", ErrAccessDenied.Message())
		assert.Equal(t, "File or directory not found!", ErrNotFound.Message())
		assert.Equal(t, "No selector!", ErrNoSelector.Message())
		assert.Equal(t, "Couldn't execute file!", ErrExecFailure.Message())
		assert.Equal(t, "Refusing to run as root!", ErrPrivilegeRefusal.Message())
	})

	t.Run("CodeSurvivesWrapping", func(t *testing.T) {
		err := fmt.Errorf("resolve: %w", NewError(ErrAccessDenied, "owner mismatch"))
		assert.Equal(t, ErrAccessDenied, CodeOf(err))
		assert.True(t, IsCode(err, ErrAccessDenied))
		assert.False(t, IsCode(err, ErrNotFound))
	})

	t.Run("ForeignErrorsAreNotFound", func(t *testing.T) {
		assert.Equal(t, ErrNotFound, CodeOf(errors.New("boom")))
	})

	t.Run("UnwrapExposesCause", func(t *testing.T) {
		cause := errors.New("exec format error")
		err := WrapError(ErrExecFailure, "cgi", cause)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "Couldn't execute file!")
	})
}

func TestRequestContextHidden(t *testing.T) {
	rc := NewRequestContext(context.Background(), "10.0.0.1")
	assert.False(t, rc.IsHidden("secret"))
	rc.Hide("secret")
	assert.True(t, rc.IsHidden("secret"))
	assert.Equal(t, ProtocolGopher, rc.Protocol)
}

func TestRequestContextURL(t *testing.T) {
	rc := NewRequestContext(context.Background(), "10.0.0.1")
	rc.ServerHost = "example.org"
	rc.ServerPort = 70
	rc.Type = TypeMenu
	rc.Selector = "/docs/"
	assert.Equal(t, "gopher://example.org:70/1/docs/", rc.URL())
}
