package rtiwire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"response with result", `{"id":1,"result":{"ok":true}}`, KindResponse},
		{"response with error", `{"id":2,"error":{"code":-1,"message":"x"}}`, KindResponse},
		{"server request", `{"id":3,"method":"item/tool/call","params":{}}`, KindServerRequest},
		{"notification", `{"method":"turn/started","params":{"turnId":"t1"}}`, KindNotification},
		{"unknown", `{"foo":"bar"}`, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, _, _, _, _, _ := Classify(json.RawMessage(tc.raw))
			require.Equal(t, tc.want, kind)
		})
	}
}

func TestIDKeyEncoding(t *testing.T) {
	require.Equal(t, "n:777", ID{Num: 777}.Key())
	require.Equal(t, "s:abc", ID{Str: "abc", IsStr: true}.Key())
	require.Equal(t, "", ID{IsNull: true}.Key())
}

func TestClassifyExtractsThreadAndTurn(t *testing.T) {
	_, _, method, threadID, turnID, itemID := Classify(json.RawMessage(
		`{"method":"item/agentMessage/delta","params":{"threadId":"thr_1","turnId":"turn_1","itemId":"item_1"}}`,
	))
	require.Equal(t, "item/agentMessage/delta", method)
	require.Equal(t, "thr_1", threadID)
	require.Equal(t, "turn_1", turnID)
	require.Equal(t, "item_1", itemID)
}
