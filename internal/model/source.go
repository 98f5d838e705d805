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

package model

// SourceType identifies one upstream data shape and its target table.
type SourceType string

const (
	SourceProfile  SourceType = "profile"
	SourcePrice    SourceType = "price"
	SourceReddit   SourceType = "reddit_sentiment"
	SourceTwitter  SourceType = "twitter_sentiment"
	SourceArticles SourceType = "articles"
)

// WindowedSources returns the source types ingested per scheduled window.
// Profile ingestion runs separately and takes no window.
func WindowedSources() []SourceType {
	return []SourceType{SourcePrice, SourceReddit, SourceTwitter, SourceArticles}
}

func (s SourceType) String() string { return string(s) }
