// This file contains a Massive-backed Provider implementation that retrieves
// option chain snapshots and daily bars via the Massive HTTP APIs.
//
// Design notes:
//   - Uses raw HTTP calls; the snapshot endpoint is paginated through next_url
//   - Per-minute rate limits (HTTP 429) are retried after the next minute boundary
//   - Logging is verbose at Debug/Trace levels for diagnostics

package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

// massiveDataProvider implements the Provider interface using Massive APIs.
type massiveDataProvider struct {
	// APIKey used for authenticating requests with Massive.
	APIKey string

	// Client is the HTTP client used to make API requests.
	Client *http.Client

	// BaseURL is the root endpoint for Massive APIs
	// (e.g., https://api.massive.com).
	BaseURL string

	// rateLimitWait returns how long to back off after a 429.
	rateLimitWait func(now time.Time) time.Duration

	// secondary is an optional fallback provider.
	secondary Provider
}

// massiveChainSnapshot is a single contract returned by the option chain
// snapshot endpoint.
type massiveChainSnapshot struct {
	Details struct {
		ContractType   string  `json:"contract_type"`
		ExerciseStyle  string  `json:"exercise_style"`
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
		Ticker         string  `json:"ticker"`
	} `json:"details"`
	LastQuote struct {
		Bid      float64 `json:"bid"`
		Ask      float64 `json:"ask"`
		Midpoint float64 `json:"midpoint"`
	} `json:"last_quote"`
	UnderlyingAsset struct {
		Price  float64 `json:"price"`
		Ticker string  `json:"ticker"`
	} `json:"underlying_asset"`
}

// massiveChainResp models the paginated snapshot response.
type massiveChainResp struct {
	Results   []massiveChainSnapshot `json:"results"`
	Status    string                 `json:"status"`
	RequestID string                 `json:"request_id"`
	NextURL   string                 `json:"next_url"`
}

// NewMassiveDataProvider constructs a Massive-backed data provider.
//
// It initializes an HTTP client with sensible defaults for:
//   - timeouts
//   - connection pooling
//   - HTTP/2 support
//   - gzip decompression
func NewMassiveDataProvider(apiKey string) *massiveDataProvider {
	logger.Infof("initializing Massive data provider")

	return &massiveDataProvider{
		APIKey: apiKey,
		Client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    false, // must be false to enable gzip auto-decompression
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		BaseURL:       "https://api.massive.com",
		rateLimitWait: untilNextMinute,
	}
}

// Secondary returns the configured secondary Provider, if any.
func (massiveDataProv *massiveDataProvider) Secondary() Provider {
	return massiveDataProv.secondary
}

// GetChain retrieves the current quote snapshot of every contract of one
// side for the given expiry. Contracts without a usable quote are kept; the
// caller filters on mid price.
func (massiveDataProv *massiveDataProvider) GetChain(
	ctx context.Context,
	underlying string,
	expiry time.Time,
	right pricing.Right,
) ([]pricing.OptionQuote, error) {

	logger.Debugf(
		"fetching option chain: %s expiry=%s right=%s",
		underlying,
		expiry.Format("2006-01-02"),
		right.Word(),
	)

	reqURL, err := url.Parse(massiveDataProv.BaseURL + "/v3/snapshot/options/" + url.PathEscape(strings.ToUpper(underlying)))
	if err != nil {
		return nil, err
	}

	query := reqURL.Query()
	query.Set("expiration_date", expiry.Format("2006-01-02"))
	query.Set("contract_type", right.Word())
	query.Set("order", "asc")
	query.Set("sort", "strike_price")
	query.Set("limit", "250")
	reqURL.RawQuery = query.Encode()

	var out []pricing.OptionQuote
	for next := reqURL.String(); next != ""; {
		var page massiveChainResp
		if err := massiveDataProv.getJSON(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("massive chain %s: %w", underlying, err)
		}

		logger.Tracef("received %d chain snapshots", len(page.Results))

		for _, res := range page.Results {
			r, err := pricing.ParseRight(res.Details.ContractType)
			if err != nil || r != right {
				continue
			}
			out = append(out, pricing.OptionQuote{
				Strike: res.Details.StrikePrice,
				Bid:    res.LastQuote.Bid,
				Ask:    res.LastQuote.Ask,
				Right:  r,
			})
		}

		next = page.NextURL
	}

	logger.Debugf("chain %s %s: %d contracts", underlying, expiry.Format("2006-01-02"), len(out))
	return out, nil
}

// GetSpot returns the last daily close on or before asOf, looking back up to
// a week to skip weekends and holidays.
func (massiveDataProv *massiveDataProvider) GetSpot(ctx context.Context, underlying string, asOf time.Time) (float64, error) {
	bars, err := massiveDataProv.GetBars(ctx, underlying, asOf.AddDate(0, 0, -7), asOf)
	if err != nil {
		return 0, err
	}
	spot, ok := CloseOn(bars, asOf, MatchLower)
	if !ok {
		if massiveDataProv.secondary != nil {
			return massiveDataProv.secondary.GetSpot(ctx, underlying, asOf)
		}
		return 0, fmt.Errorf("no bars for %s on or before %s", underlying, asOf.Format("2006-01-02"))
	}
	return spot, nil
}

// GetBars retrieves daily OHLCV bars for the given symbol and date range.
func (massiveDataProv *massiveDataProvider) GetBars(
	ctx context.Context,
	underlying string,
	fromDate, toDate time.Time,
) ([]Bar, error) {

	logger.Debugf(
		"fetching bars: %s from=%s to=%s",
		underlying,
		fromDate.Format("2006-01-02"),
		toDate.Format("2006-01-02"),
	)

	reqURL := fmt.Sprintf(
		"%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&limit=50000",
		massiveDataProv.BaseURL,
		url.PathEscape(underlying),
		fromDate.Format("2006-01-02"),
		toDate.Format("2006-01-02"),
	)

	// Massive/POLYGON style response model
	var body struct {
		Ticker  string `json:"ticker"`
		Results []struct {
			Open      float64 `json:"o"`
			Close     float64 `json:"c"`
			High      float64 `json:"h"`
			Low       float64 `json:"l"`
			Volume    float64 `json:"v"`
			Timestamp int64   `json:"t"` // epoch millis
		} `json:"results"`
		NextURL string `json:"next_url"`
	}

	var out []Bar
	for reqURL != "" {
		body.Results = nil
		body.NextURL = ""
		if err := massiveDataProv.getJSON(ctx, reqURL, &body); err != nil {
			logger.Errorf("bars request failed for %s: %v", underlying, err)
			return nil, fmt.Errorf("massive bars %s: %w", underlying, err)
		}

		logger.Tracef("bars received: %d records", len(body.Results))

		for _, r := range body.Results {
			out = append(out, Bar{
				Date:  time.UnixMilli(r.Timestamp).UTC(),
				Open:  r.Open,
				High:  r.High,
				Low:   r.Low,
				Close: r.Close,
				Vol:   r.Volume,
			})
		}
		reqURL = body.NextURL
	}

	return out, nil
}

// getJSON issues an authenticated GET and decodes a 200 response into v.
func (massiveDataProv *massiveDataProvider) getJSON(ctx context.Context, reqURL string, v any) error {
	logger.Tracef("GET %s", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+massiveDataProv.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "option-density/1.0")

	resp, err := massiveDataProv.processGetRequest(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty response body")
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// processGetRequest executes an HTTP GET request with rate-limit handling.
//
// Behavior:
//   - Retries on HTTP 429 after rateLimitWait, until ctx is done
//   - Returns immediately on success (<400)
//   - Returns an error carrying the API message for other status codes
func (massiveDataProv *massiveDataProvider) processGetRequest(
	ctx context.Context,
	req *http.Request,
) (*http.Response, error) {

	for {
		resp, err := massiveDataProv.Client.Do(req)
		if err != nil {
			return nil, err
		}

		// Success
		if resp.StatusCode < 400 {
			return resp, nil
		}

		// Handle per-minute rate limit (commonly 429)
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()

			wait := untilNextMinute
			if massiveDataProv.rateLimitWait != nil {
				wait = massiveDataProv.rateLimitWait
			}
			sleepDuration := wait(time.Now())

			logger.Infof("rate limit hit, sleeping for %s", sleepDuration)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleepDuration):
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		var dbg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &dbg)

		logger.Errorf(
			"massive API error status=%d message=%s",
			resp.StatusCode,
			dbg.Message,
		)
		return nil, fmt.Errorf(
			"massive returned status %d: %s",
			resp.StatusCode,
			dbg.Message,
		)
	}
}

// untilNextMinute sleeps until the next minute boundary.
func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}
