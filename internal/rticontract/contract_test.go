package rticontract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateParamsRejectsMissingRequiredField(t *testing.T) {
	v, err := NewValidator(ModeKnownMethods)
	require.NoError(t, err)

	err = v.ValidateParams(context.Background(), "thread/read", json.RawMessage(`{}`))
	require.Error(t, err)

	err = v.ValidateParams(context.Background(), "thread/read", json.RawMessage(`{"threadId":"thr_1"}`))
	require.NoError(t, err)
}

func TestValidateParamsSkipsUnknownInKnownMethodsMode(t *testing.T) {
	v, err := NewValidator(ModeKnownMethods)
	require.NoError(t, err)
	require.NoError(t, v.ValidateParams(context.Background(), "custom/thing", json.RawMessage(`{"anything":true}`)))
}

func TestValidateParamsRejectsUnknownInStrictMode(t *testing.T) {
	v, err := NewValidator(ModeStrict)
	require.NoError(t, err)
	require.Error(t, v.ValidateParams(context.Background(), "custom/thing", json.RawMessage(`{}`)))
}

func TestValidateServerRequestResultShapes(t *testing.T) {
	require.NoError(t, ValidateServerRequestResult("item/fileChange/requestApproval", json.RawMessage(`{"decision":"accept"}`)))
	require.Error(t, ValidateServerRequestResult("item/fileChange/requestApproval", json.RawMessage(`{"unexpected":true}`)))

	require.NoError(t, ValidateServerRequestResult("item/tool/requestUserInput", json.RawMessage(`{"answers":{}}`)))
	require.Error(t, ValidateServerRequestResult("item/tool/requestUserInput", json.RawMessage(`{"answers":"nope"}`)))

	require.NoError(t, ValidateServerRequestResult("item/tool/call", json.RawMessage(`{"success":false,"contentItems":[]}`)))
	require.Error(t, ValidateServerRequestResult("item/tool/call", json.RawMessage(`{"success":false}`)))

	require.NoError(t, ValidateServerRequestResult("account/chatgptAuthTokens/refresh", json.RawMessage(`{"accessToken":"x","chatgptAccountId":"a","chatgptPlanType":null}`)))
	require.Error(t, ValidateServerRequestResult("account/chatgptAuthTokens/refresh", json.RawMessage(`{"accessToken":"x"}`)))
}
