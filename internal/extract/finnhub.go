/*
Copyright © 2020 A. Jensen <jensen.aaro@gmail.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package extract

import (
	"context"
	"fmt"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
)

const dateLayout = "2006-01-02"

// Client wraps the finnhub API behind one Extractor per source type.
type Client struct {
	api *finnhub.DefaultApiService
}

func NewClient(apiKey string) *Client {
	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	return &Client{api: finnhub.NewAPIClient(cfg).DefaultApi}
}

func (c *Client) Sources() map[model.SourceType]Extractor {
	return map[model.SourceType]Extractor{
		model.SourceProfile:  Func(c.profile),
		model.SourcePrice:    Func(c.prices),
		model.SourceReddit:   Func(c.redditSentiment),
		model.SourceTwitter:  Func(c.twitterSentiment),
		model.SourceArticles: Func(c.articles),
	}
}

func (c *Client) profile(ctx context.Context, symbol, _, _ string) ([]Raw, error) {
	p, resp, err := c.api.CompanyProfile2(ctx).Symbol(symbol).Execute()
	if err != nil {
		return nil, handleErr(fmt.Sprintf("error while getting company profile %q", symbol), resp, err)
	}
	if p.GetTicker() == "" {
		return nil, nil
	}

	// The generated profile model has no estimateCurrency field, so it is
	// recovered from the raw response body the client buffers.
	var extra struct {
		EstimateCurrency string `json:"estimateCurrency"`
	}
	if err := unmarshalBody(resp, &extra); err != nil {
		return nil, fmt.Errorf("error while decoding company profile %q: %w", symbol, err)
	}

	return []Raw{{
		"ticker":               p.GetTicker(),
		"country":              p.GetCountry(),
		"currency":             p.GetCurrency(),
		"estimateCurrency":     extra.EstimateCurrency,
		"exchange":             p.GetExchange(),
		"finnhubIndustry":      p.GetFinnhubIndustry(),
		"ipo":                  p.GetIpo(),
		"logo":                 p.GetLogo(),
		"marketCapitalization": p.GetMarketCapitalization(),
		"name":                 p.GetName(),
		"phone":                p.GetPhone(),
		"shareOutstanding":     p.GetShareOutstanding(),
		"weburl":               p.GetWeburl(),
	}}, nil
}

// prices fetches daily candles and flattens them into one record per
// trading day. Days the provider has no candle for produce no record.
func (c *Client) prices(ctx context.Context, symbol, from, to string) ([]Raw, error) {
	fromTime, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	toTime, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("invalid to date %q: %w", to, err)
	}

	// The candle endpoint is inclusive on both ends; back off one second
	// from the upper bound to keep the window half-open.
	candles, resp, err := c.api.StockCandles(ctx).
		Symbol(symbol).
		Resolution("D").
		From(fromTime.Unix()).
		To(toTime.Unix() - 1).
		Execute()
	if err != nil {
		return nil, handleErr(fmt.Sprintf("error while getting candles for stock %q", symbol), resp, err)
	}

	if candles.GetS() != "ok" {
		return nil, nil
	}

	ts := candles.GetT()
	closes := candles.GetC()
	volumes := candles.GetV()
	if len(closes) != len(ts) || len(volumes) != len(ts) {
		return nil, fmt.Errorf("mismatched candle arrays for stock %q: t=%d c=%d v=%d", symbol, len(ts), len(closes), len(volumes))
	}

	out := make([]Raw, len(ts))
	for i, t := range ts {
		out[i] = Raw{
			"date":   time.Unix(t, 0).UTC().Format(dateLayout),
			"price":  closes[i],
			"volume": volumes[i],
		}
	}
	return out, nil
}

func (c *Client) redditSentiment(ctx context.Context, symbol, from, to string) ([]Raw, error) {
	s, resp, err := c.api.SocialSentiment(ctx).Symbol(symbol).From(from).To(to).Execute()
	if err != nil {
		return nil, handleErr(fmt.Sprintf("error while getting reddit sentiment %q", symbol), resp, err)
	}

	reddit := s.GetReddit()
	out := make([]Raw, 0, len(reddit))
	for i := range reddit {
		rec := &reddit[i]
		out = append(out, Raw{
			"atTime":          rec.GetAtTime(),
			"mention":         rec.GetMention(),
			"positiveScore":   rec.GetPositiveScore(),
			"negativeScore":   rec.GetNegativeScore(),
			"positiveMention": rec.GetPositiveMention(),
			"negativeMention": rec.GetNegativeMention(),
			"score":           rec.GetScore(),
		})
	}
	return out, nil
}

func (c *Client) twitterSentiment(ctx context.Context, symbol, from, to string) ([]Raw, error) {
	s, resp, err := c.api.SocialSentiment(ctx).Symbol(symbol).From(from).To(to).Execute()
	if err != nil {
		return nil, handleErr(fmt.Sprintf("error while getting twitter sentiment %q", symbol), resp, err)
	}

	twitter := s.GetTwitter()
	out := make([]Raw, 0, len(twitter))
	for i := range twitter {
		rec := &twitter[i]
		out = append(out, Raw{
			"atTime":          rec.GetAtTime(),
			"mention":         rec.GetMention(),
			"positiveScore":   rec.GetPositiveScore(),
			"negativeScore":   rec.GetNegativeScore(),
			"positiveMention": rec.GetPositiveMention(),
			"negativeMention": rec.GetNegativeMention(),
			"score":           rec.GetScore(),
		})
	}
	return out, nil
}

func (c *Client) articles(ctx context.Context, symbol, from, to string) ([]Raw, error) {
	news, resp, err := c.api.CompanyNews(ctx).Symbol(symbol).From(from).To(to).Execute()
	if err != nil {
		return nil, handleErr(fmt.Sprintf("error while getting company news %q", symbol), resp, err)
	}

	out := make([]Raw, 0, len(news))
	for i := range news {
		rec := &news[i]
		out = append(out, Raw{
			"id":       rec.GetId(),
			"related":  rec.GetRelated(),
			"datetime": rec.GetDatetime(),
			"category": rec.GetCategory(),
			"headline": rec.GetHeadline(),
			"image":    rec.GetImage(),
			"source":   rec.GetSource(),
			"summary":  rec.GetSummary(),
			"url":      rec.GetUrl(),
		})
	}
	return out, nil
}
