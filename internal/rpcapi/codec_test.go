package rpcapi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/caid-tools/depi/internal/rpcapi"
)

func TestCodec_RegistersUnderDepiName(t *testing.T) {
	codec := encoding.GetCodec(rpcapi.CodecName)
	require.NotNil(t, codec, "the gob codec must self-register under CodecName during package init")
	assert.Equal(t, rpcapi.CodecName, codec.Name())
}

func TestCodec_MarshalUnmarshalRoundTrip(t *testing.T) {
	codec := rpcapi.Codec()
	req := rpcapi.LoginRequest{User: "alice", Password: "secret", Project: "proj", ToolID: "git"}

	data, err := codec.Marshal(req)
	require.NoError(t, err)

	var got rpcapi.LoginRequest
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, req, got)
}

func TestCodec_RoundTripsNestedSlices(t *testing.T) {
	codec := rpcapi.Codec()
	resp := rpcapi.GetResourceGroupsForTagResponse{
		Result: rpcapi.Ok(),
		Groups: []rpcapi.ResourceGroup{
			{ToolID: "git", URL: "repo1", Name: "repo1", Version: "v1"},
			{ToolID: "git", URL: "repo2", Name: "repo2", Version: "v2"},
		},
	}

	data, err := codec.Marshal(resp)
	require.NoError(t, err)

	var got rpcapi.GetResourceGroupsForTagResponse
	require.NoError(t, codec.Unmarshal(data, &got))
	assert.Equal(t, resp, got)
}

func TestCodec_UnmarshalInvalidDataErrors(t *testing.T) {
	codec := rpcapi.Codec()
	var got rpcapi.LoginRequest
	err := codec.Unmarshal([]byte("not gob data"), &got)
	assert.Error(t, err)
}

func TestResultHelpers(t *testing.T) {
	assert.Equal(t, rpcapi.Result{OK: true}, rpcapi.Ok())
	assert.Equal(t, rpcapi.Result{OK: false, Msg: "boom"}, rpcapi.Fail("boom"))
}
