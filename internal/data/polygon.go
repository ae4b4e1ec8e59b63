package data

import (
	"context"
	"fmt"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/contactkeval/option-density/internal/logger"
	"github.com/contactkeval/option-density/internal/pricing"
)

// polygonDataProvider serves daily aggregates through the Polygon REST SDK.
// Option chains are delegated to the secondary provider.
type polygonDataProvider struct {
	client    *polygon.Client
	secondary Provider
}

func NewPolygonDataProvider(apiKey string, secondary Provider) Provider {
	return &polygonDataProvider{client: polygon.New(apiKey), secondary: secondary}
}

func (polygonDataProv *polygonDataProvider) Secondary() Provider {
	return polygonDataProv.secondary
}

func (polygonDataProv *polygonDataProvider) GetChain(ctx context.Context, underlying string, expiry time.Time, right pricing.Right) ([]pricing.OptionQuote, error) {
	if polygonDataProv.secondary != nil {
		return polygonDataProv.secondary.GetChain(ctx, underlying, expiry, right)
	}
	return nil, fmt.Errorf("polygon GetChain: %w", ErrNotImplemented)
}

func (polygonDataProv *polygonDataProvider) GetSpot(ctx context.Context, underlying string, asOf time.Time) (float64, error) {
	bars, err := polygonDataProv.GetBars(ctx, underlying, asOf.AddDate(0, 0, -7), asOf)
	if err != nil {
		return 0, err
	}
	if spot, ok := CloseOn(bars, asOf, MatchLower); ok {
		return spot, nil
	}
	if polygonDataProv.secondary != nil {
		return polygonDataProv.secondary.GetSpot(ctx, underlying, asOf)
	}
	return 0, fmt.Errorf("polygon: no bars for %s on or before %s", underlying, asOf.Format("2006-01-02"))
}

func (polygonDataProv *polygonDataProvider) GetBars(ctx context.Context, underlying string, fromDate, toDate time.Time) ([]Bar, error) {
	logger.Debugf("fetching polygon aggregates for %s %s..%s", underlying, fromDate.Format("2006-01-02"), toDate.Format("2006-01-02"))

	params := models.ListAggsParams{
		Ticker:     underlying,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(fromDate),
		To:         models.Millis(toDate),
	}.WithOrder(models.Asc).WithAdjusted(true)

	iter := polygonDataProv.client.ListAggs(ctx, params)

	var out []Bar
	for iter.Next() {
		out = append(out, barFromAgg(iter.Item()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("polygon aggs %s: %w", underlying, err)
	}

	logger.Tracef("polygon aggregates received: %d", len(out))
	return out, nil
}

func barFromAgg(agg models.Agg) Bar {
	return Bar{
		Date:  time.Time(agg.Timestamp).UTC(),
		Open:  agg.Open,
		High:  agg.High,
		Low:   agg.Low,
		Close: agg.Close,
		Vol:   agg.Volume,
	}
}
