/*
This file is used to fetch latest-round price answers from an external feed
service over HTTP.

The price router refuses to operate on anything it cannot validate, so every
response is checked strictly before it is handed over: the answer must be a
positive integer, the timestamp must be sane, and the precision must rescale
cleanly to the router's 8-decimal convention.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/cellar-network/cvm/internal/logger"
	"github.com/cellar-network/cvm/internal/types"
	"github.com/cellar-network/cvm/internal/utils"
)

var feedLogger = logger.GetForComponent("feed_client")

var ErrInvalidFeedData = errors.New("invalid feed data received")
var ErrFeedUnavailable = errors.New("feed service unavailable")

const (
	MAX_RETRIES     = 3
	MAX_CLOCK_SKEW  = 2 * time.Minute
	MAX_BODY_LENGTH = 1 << 16
)

// latestRoundResponse is the feed service's answer envelope.
type latestRoundResponse struct {
	Feed      string `json:"feed"`
	RoundID   uint64 `json:"round_id"`
	Answer    string `json:"answer"`   // integer string at the feed's precision
	Decimals  uint8  `json:"decimals"` // precision of Answer
	UpdatedAt int64  `json:"updated_at"`
}

// FeedClient reads one named feed from the feed service. It satisfies the
// price router's FeedReader contract.
type FeedClient struct {
	baseURL  string
	feedName string
	client   *http.Client
}

// NewFeedClient builds a client for one feed.
func NewFeedClient(baseURL, feedName string, timeout time.Duration) (*FeedClient, error) {
	if baseURL == "" || feedName == "" {
		return nil, fmt.Errorf("%w: base URL and feed name are required", ErrInvalidFeedData)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedClient{
		baseURL:  baseURL,
		feedName: feedName,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// FeedName returns the feed this client reads.
func (f *FeedClient) FeedName() string {
	return f.feedName
}

// LatestRoundData fetches the newest answer, retrying transient failures
// with linear backoff. The answer is returned at 8-decimal price precision.
func (f *FeedClient) LatestRoundData(ctx context.Context) (sdkmath.Int, time.Time, error) {
	requestURL := fmt.Sprintf("%s/rounds/latest?feed=%s", f.baseURL, url.QueryEscape(f.feedName))

	var lastErr error
	for attempt := 1; attempt <= MAX_RETRIES; attempt++ {
		feedLogger.Debug().
			Str("feed", f.feedName).
			Int("attempt", attempt).
			Int("maxRetries", MAX_RETRIES).
			Msg("Requesting latest round")

		answer, updatedAt, err := f.fetchOnce(ctx, requestURL)
		if err == nil {
			return answer, updatedAt, nil
		}
		lastErr = err

		// Validation failures are final; retrying returns the same bad data.
		if errors.Is(err, ErrInvalidFeedData) {
			break
		}
		feedLogger.Warn().
			Err(err).
			Str("feed", f.feedName).
			Int("attempt", attempt).
			Msg("Feed request failed, will retry if attempts remain")
		if attempt < MAX_RETRIES {
			select {
			case <-ctx.Done():
				return sdkmath.ZeroInt(), time.Time{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	feedLogger.Error().
		Err(lastErr).
		Str("feed", f.feedName).
		Int("maxRetries", MAX_RETRIES).
		Msg("All feed request attempts failed")
	return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("feed %s after %d attempts: %w", f.feedName, MAX_RETRIES, lastErr)
}

// fetchOnce performs a single request-validate round.
func (f *FeedClient) fetchOnce(ctx context.Context, requestURL string) (sdkmath.Int, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: feed %s returned status %d",
			ErrFeedUnavailable, f.feedName, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MAX_BODY_LENGTH))
	if err != nil {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("failed to read feed response body: %w", err)
	}
	if len(body) == 0 {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: empty response body", ErrInvalidFeedData)
	}

	var round latestRoundResponse
	if err := json.Unmarshal(body, &round); err != nil {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: failed to parse response: %w", ErrInvalidFeedData, err)
	}
	return f.validateRound(round)
}

// validateRound enforces the answer invariants and rescales to 8 decimals.
func (f *FeedClient) validateRound(round latestRoundResponse) (sdkmath.Int, time.Time, error) {
	if round.Feed != "" && round.Feed != f.feedName {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: requested feed %s, got %s",
			ErrInvalidFeedData, f.feedName, round.Feed)
	}
	if round.UpdatedAt <= 0 {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: invalid timestamp %d", ErrInvalidFeedData, round.UpdatedAt)
	}
	updatedAt := time.Unix(round.UpdatedAt, 0)
	if updatedAt.After(time.Now().Add(MAX_CLOCK_SKEW)) {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidFeedData, updatedAt)
	}

	answer, ok := sdkmath.NewIntFromString(round.Answer)
	if !ok {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: answer %q is not an integer", ErrInvalidFeedData, round.Answer)
	}
	if !answer.IsPositive() {
		return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: answer %s must be positive", ErrInvalidFeedData, answer)
	}

	if round.Decimals != types.PriceDecimals {
		rescaled, err := utils.ChangeDecimals(answer, round.Decimals, types.PriceDecimals)
		if err != nil {
			return sdkmath.ZeroInt(), time.Time{}, fmt.Errorf("%w: cannot rescale %d-decimal answer: %w",
				ErrInvalidFeedData, round.Decimals, err)
		}
		answer = rescaled
	}

	feedLogger.Debug().
		Str("feed", f.feedName).
		Uint64("roundID", round.RoundID).
		Str("answer", answer.String()).
		Time("updatedAt", updatedAt).
		Msg("Feed round validated")
	return answer, updatedAt, nil
}
