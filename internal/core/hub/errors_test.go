package hub

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseServerErrorID(t *testing.T) {
	assert.Equal(t, PullIsRequired, ParseServerErrorID("iModelHub.PullIsRequired"))
	assert.Equal(t, OperationFailed, ParseServerErrorID("iModelHub.iModelHubOperationFailed"))
	assert.Equal(t, ChangeSetDoesNotExist, ParseServerErrorID("InvalidChangeSet"))
	assert.Equal(t, Unknown, ParseServerErrorID("iModelHub.SomethingNew"))
}

func TestErrorIsMatchesByID(t *testing.T) {
	err := fmt.Errorf("push: %w", FromServer("iModelHub.AnotherUserPushing", "busy", "", 409, nil))

	assert.True(t, errors.Is(err, NewError(AnotherUserPushing, "")))
	assert.False(t, errors.Is(err, ErrReadOnly))
	assert.Equal(t, AnotherUserPushing, IDOf(err))
	assert.True(t, HasID(err, PullIsRequired, AnotherUserPushing))
	assert.False(t, HasID(nil, AnotherUserPushing))
}

func TestWrapKeepsMatchingError(t *testing.T) {
	orig := NewError(ApplyError, "merge failed")
	assert.Same(t, orig, Wrap(ApplyError, orig))

	wrapped := Wrap(Cancelled, orig)
	assert.Equal(t, Cancelled, wrapped.ID)
	assert.ErrorIs(t, wrapped, orig)
	assert.Nil(t, Wrap(Cancelled, nil))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{ID: PullIsRequired, Message: "pull first", Description: "parent is stale"}
	assert.Equal(t, "PullIsRequired: pull first (parent is stale)", err.Error())
	assert.Equal(t, "ErrorID(999)", ErrorID(999).String())
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, NewError(ConnectionError, "").IsTemporary())
	assert.True(t, NewError(ServiceUnavailable, "").IsTemporary())
	assert.False(t, NewError(PullIsRequired, "").IsTemporary())
}
