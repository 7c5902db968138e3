package completion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/codegen_gateway/internal/models"
)

func TestDecodeMessagesFalsy(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"messages":null}`,
		`{"messages":false}`,
		`{"messages":0}`,
		`{"messages":""}`,
		`[]`,
		`"text"`,
	} {
		_, err := DecodeMessages([]byte(body))
		require.True(t, errors.Is(err, ErrMessagesRequired), body)
	}
}

func TestDecodeMessagesMalformed(t *testing.T) {
	for _, body := range []string{
		``,
		`not json`,
		`null`,
		`{"messages":[]} trailing`,
		`{"messages":"hello"}`,
		`{"messages":{"role":"user"}}`,
		`{"messages":[{"role":"user","content":7}]}`,
	} {
		_, err := DecodeMessages([]byte(body))
		require.Error(t, err, body)
		require.False(t, errors.Is(err, ErrMessagesRequired), body)
	}
}

func TestDecodeMessagesPresent(t *testing.T) {
	msgs, err := DecodeMessages([]byte(`{"messages":[]}`))
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)

	msgs, err = DecodeMessages([]byte(`{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"yo"}]}`))
	require.NoError(t, err)
	require.Equal(t, []models.ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "yo"}}, msgs)
}

func TestOutboundPrependsInstruction(t *testing.T) {
	out := Outbound(nil)
	require.Equal(t, []models.ChatMessage{{Role: models.RoleSystem, Content: SystemInstruction}}, out)
}
