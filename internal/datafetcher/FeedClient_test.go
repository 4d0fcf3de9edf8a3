package datafetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func serveRound(t *testing.T, round latestRoundResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rounds/latest", r.URL.Path)
		require.Equal(t, "ATOM-USD", r.URL.Query().Get("feed"))
		require.NoError(t, json.NewEncoder(w).Encode(round))
	}))
}

func TestLatestRoundData(t *testing.T) {
	server := serveRound(t, latestRoundResponse{
		Feed:      "ATOM-USD",
		RoundID:   42,
		Answer:    "400000000",
		Decimals:  8,
		UpdatedAt: time.Now().Unix(),
	})
	defer server.Close()

	client, err := NewFeedClient(server.URL, "ATOM-USD", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ATOM-USD", client.FeedName())

	answer, updatedAt, err := client.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(400_000_000), answer)
	require.WithinDuration(t, time.Now(), updatedAt, time.Minute)
}

func TestLatestRoundDataRescalesDecimals(t *testing.T) {
	// A 6-decimal answer of 4.00 must arrive as 8-decimal 4.00.
	server := serveRound(t, latestRoundResponse{
		Feed:      "ATOM-USD",
		Answer:    "4000000",
		Decimals:  6,
		UpdatedAt: time.Now().Unix(),
	})
	defer server.Close()

	client, err := NewFeedClient(server.URL, "ATOM-USD", time.Second)
	require.NoError(t, err)

	answer, _, err := client.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(400_000_000), answer)
}

func TestInvalidDataIsFinal(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, json.NewEncoder(w).Encode(latestRoundResponse{
			Feed:      "ATOM-USD",
			Answer:    "not-a-number",
			Decimals:  8,
			UpdatedAt: time.Now().Unix(),
		}))
	}))
	defer server.Close()

	client, err := NewFeedClient(server.URL, "ATOM-USD", time.Second)
	require.NoError(t, err)

	_, _, err = client.LatestRoundData(context.Background())
	require.ErrorIs(t, err, ErrInvalidFeedData)
	// Bad data is not retried; the same answer would come back.
	require.Equal(t, int32(1), hits.Load())
}

func TestRejectsWrongFeedAndBadTimestamps(t *testing.T) {
	cases := []struct {
		name  string
		round latestRoundResponse
	}{
		{"wrong feed", latestRoundResponse{Feed: "BTC-USD", Answer: "1", Decimals: 8, UpdatedAt: time.Now().Unix()}},
		{"zero timestamp", latestRoundResponse{Feed: "ATOM-USD", Answer: "1", Decimals: 8, UpdatedAt: 0}},
		{"future timestamp", latestRoundResponse{Feed: "ATOM-USD", Answer: "1", Decimals: 8, UpdatedAt: time.Now().Add(time.Hour).Unix()}},
		{"zero answer", latestRoundResponse{Feed: "ATOM-USD", Answer: "0", Decimals: 8, UpdatedAt: time.Now().Unix()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewFeedClient("http://unused", "ATOM-USD", time.Second)
			require.NoError(t, err)
			_, _, err = client.validateRound(tc.round)
			require.ErrorIs(t, err, ErrInvalidFeedData)
		})
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(latestRoundResponse{
			Feed:      "ATOM-USD",
			Answer:    "400000000",
			Decimals:  8,
			UpdatedAt: time.Now().Unix(),
		}))
	}))
	defer server.Close()

	client, err := NewFeedClient(server.URL, "ATOM-USD", time.Second)
	require.NoError(t, err)

	answer, _, err := client.LatestRoundData(context.Background())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(400_000_000), answer)
	require.Equal(t, int32(2), hits.Load())
}

func TestNewFeedClientValidation(t *testing.T) {
	_, err := NewFeedClient("", "ATOM-USD", time.Second)
	require.ErrorIs(t, err, ErrInvalidFeedData)

	_, err = NewFeedClient("http://feeds", "", time.Second)
	require.ErrorIs(t, err, ErrInvalidFeedData)
}
