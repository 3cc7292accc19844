package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/protocol"
)

// TestHTTPClient_GetMinerIndex tests fetching and normalizing a legacy-form
// index.
func TestHTTPClient_GetMinerIndex(t *testing.T) {
	label, err := data.NewDataLabel("r/bittensor_")
	require.NoError(t, err)
	response := protocol.GetMinerIndexResponse{
		Version: protocol.Version,
		DataEntityBuckets: []data.DataEntityBucket{
			{
				ID: data.DataEntityBucketID{
					TimeBucket: data.TimeBucket{ID: 472000},
					Source:     data.DataSourceReddit,
					Label:      label,
				},
				SizeBytes: 250,
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, protocol.MinerIndexPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req protocol.GetMinerIndexRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, protocol.Version, req.Version)

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	resp, err := client.GetMinerIndex(context.Background(), server.URL)

	require.NoError(t, err)
	require.NotNil(t, resp)

	index, err := resp.Normalize("hotkey-1")
	require.NoError(t, err)
	require.Len(t, index.DataEntityBuckets, 1)
	assert.Equal(t, int64(250), index.DataEntityBuckets[0].SizeBytes)
	assert.Equal(t, "r/bittensor_", index.DataEntityBuckets[0].ID.Label.Value)
}

// TestHTTPClient_GetDataEntityBucket tests fetching one bucket's entities.
func TestHTTPClient_GetDataEntityBucket(t *testing.T) {
	id := data.DataEntityBucketID{
		TimeBucket: data.TimeBucket{ID: 472001},
		Source:     data.DataSourceX,
	}
	response := protocol.GetDataEntityBucketResponse{
		Version:            protocol.Version,
		DataEntityBucketID: id,
		DataEntities: []data.DataEntity{
			{
				URI:              "https://x.com/u/status/1",
				Datetime:         time.Unix(472001*3600, 0).UTC(),
				Source:           data.DataSourceX,
				Content:          []byte("a post"),
				ContentSizeBytes: 6,
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, protocol.MinerBucketPath, r.URL.Path)

		var req protocol.GetDataEntityBucketRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.DataEntityBucketID.Equal(id))

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{})
	resp, err := client.GetDataEntityBucket(context.Background(), server.URL, id)

	require.NoError(t, err)
	require.Len(t, resp.DataEntities, 1)
	assert.Equal(t, []byte("a post"), resp.DataEntities[0].Content)
	assert.Equal(t, int64(6), resp.DataEntities[0].ContentSizeBytes)
}

// TestHTTPClient_BreakerOpensOnServerErrors tests that repeated 5xx replies
// open the breaker and later requests are refused without hitting the peer.
func TestHTTPClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := client.GetMinerIndex(context.Background(), server.URL)
		require.Error(t, err)
	}
	assert.Equal(t, 2, hits)

	_, err := client.GetMinerIndex(context.Background(), server.URL)
	require.ErrorContains(t, err, "cooling down")
	assert.Equal(t, 2, hits, "open breaker must not reach the peer")
}

// TestHTTPClient_ClientErrorsSkipBreaker tests that 4xx replies fail the call
// without opening the breaker.
func TestHTTPClient_ClientErrorsSkipBreaker(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPWithOpts(Opts{BreakerFailures: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 4; i++ {
		_, err := client.GetMinerIndex(context.Background(), server.URL)
		require.ErrorContains(t, err, "http 404")
	}
	assert.Equal(t, 4, hits)
}
