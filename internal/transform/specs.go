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

package transform

import (
	"strconv"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/model"
)

// Specs returns the normalization rules for every source type.
func Specs() map[model.SourceType]Spec {
	return map[model.SourceType]Spec{
		model.SourceProfile:  Profile(),
		model.SourcePrice:    Price(),
		model.SourceReddit:   RedditSentiment(),
		model.SourceTwitter:  TwitterSentiment(),
		model.SourceArticles: Articles(),
	}
}

// Profile normalizes company profiles into stock_info. One record per
// symbol, keyed by the symbol itself.
func Profile() Spec {
	return Spec{
		Source: model.SourceProfile,
		Table:  "stock_info",
		Key:    "symbol",
		Columns: []string{
			"symbol",
			"country",
			"currency",
			"estimate_currency",
			"exchange",
			"industry",
			"ipo_date",
			"logo",
			"market_capitalization",
			"name",
			"phone",
			"share_outstanding",
			"web_url",
		},
		Rename: map[string]string{
			"ticker":               "symbol",
			"estimateCurrency":     "estimate_currency",
			"finnhubIndustry":      "industry",
			"ipo":                  "ipo_date",
			"marketCapitalization": "market_capitalization",
			"shareOutstanding":     "share_outstanding",
			"weburl":               "web_url",
		},
		Dates: []string{"ipo_date"},
	}
}

// Price normalizes per-day close/volume records into stock_price.
func Price() Spec {
	return Spec{
		Source:  model.SourcePrice,
		Table:   "stock_price",
		Key:     "id",
		Columns: []string{"id", "symbol", "date", "price", "volume"},
		Derive:  []DeriveFunc{integerColumns("volume")},
		ID: func(symbol string, row map[string]interface{}) (string, error) {
			date, err := stringField(row, "date")
			if err != nil {
				return "", err
			}
			return symbol + "_" + date, nil
		},
		Dates: []string{"date"},
	}
}

// RedditSentiment normalizes reddit social-sentiment records into
// stock_reddit_sentiment.
func RedditSentiment() Spec {
	return sentimentSpec(model.SourceReddit, "stock_reddit_sentiment", "reddit")
}

// TwitterSentiment normalizes twitter social-sentiment records into
// stock_twitter_sentiment.
func TwitterSentiment() Spec {
	return sentimentSpec(model.SourceTwitter, "stock_twitter_sentiment", "twitter")
}

// sentimentSpec builds the shared reddit/twitter rules. The tag prefix in
// the id keeps the two sources from colliding on symbol+date+time.
func sentimentSpec(source model.SourceType, table, tag string) Spec {
	return Spec{
		Source: source,
		Table:  table,
		Key:    "id",
		Columns: []string{
			"id",
			"symbol",
			"date",
			"time",
			"mention",
			"positive_score",
			"negative_score",
			"positive_mention",
			"negative_mention",
			"sentiment_score",
		},
		Rename: map[string]string{
			"positiveScore":   "positive_score",
			"negativeScore":   "negative_score",
			"positiveMention": "positive_mention",
			"negativeMention": "negative_mention",
			"score":           "sentiment_score",
			"atTime":          "date",
		},
		Derive: []DeriveFunc{
			splitTimestamp,
			integerColumns("mention", "positive_mention", "negative_mention"),
		},
		ID: func(symbol string, row map[string]interface{}) (string, error) {
			date, err := stringField(row, "date")
			if err != nil {
				return "", err
			}
			clock, err := stringField(row, "time")
			if err != nil {
				return "", err
			}
			return tag + "_" + symbol + "_" + date + "_" + clock, nil
		},
		Dates: []string{"date"},
	}
}

// Articles normalizes company news into stock_articles, keyed by the
// symbol plus the provider's article id.
func Articles() Spec {
	return Spec{
		Source: model.SourceArticles,
		Table:  "stock_articles",
		Key:    "id",
		Columns: []string{
			"id",
			"symbol",
			"date",
			"time",
			"category",
			"headline",
			"image_url",
			"source",
			"summary",
			"article_url",
		},
		Rename: map[string]string{
			"related":  "symbol",
			"image":    "image_url",
			"url":      "article_url",
			"datetime": "date",
		},
		Derive: []DeriveFunc{articleClock},
		ID: func(symbol string, row map[string]interface{}) (string, error) {
			providerID, err := intField(row, "id")
			if err != nil {
				return "", err
			}
			return symbol + "_" + strconv.FormatInt(providerID, 10), nil
		},
		Dates: []string{"date"},
	}
}
