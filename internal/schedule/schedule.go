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

// Package schedule derives extraction windows from the ingestion cadence.
//
// Providers publish with a fixed lag, so the daily cadence is anchored at
// midnight UTC plus that latency offset: the interval that closes at
// 02:00 covers, after shifting the offset back out, exactly one calendar
// day of provider data.
package schedule

import (
	"time"
)

const dateLayout = "2006-01-02"

// DefaultLatency is how far behind real time provider data is assumed to
// be.
const DefaultLatency = 2 * time.Hour

// Window is one half-open scheduled interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Resolve shifts the window back by the provider latency and truncates
// both ends to calendar dates.
func (w Window) Resolve(latency time.Duration) (from, to string) {
	from = w.Start.Add(-latency).UTC().Format(dateLayout)
	to = w.End.Add(-latency).UTC().Format(dateLayout)
	return from, to
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

func (w Window) String() string {
	if w.IsZero() {
		return "unwindowed"
	}
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

// Daily enumerates every closed daily interval between start and now,
// oldest first, without gaps. Intervals are anchored at midnight UTC plus
// the latency offset. An interval is included only once its end has
// passed, so the newest interval always covers a fully published day.
func Daily(start, now time.Time, latency time.Duration) []Window {
	anchor := midnight(start).Add(latency)
	if anchor.Before(start) {
		anchor = anchor.Add(24 * time.Hour)
	}

	var ret []Window
	for s := anchor; !s.Add(24 * time.Hour).After(now); s = s.Add(24 * time.Hour) {
		ret = append(ret, Window{Start: s, End: s.Add(24 * time.Hour)})
	}
	return ret
}

// Latest returns the most recent closed daily interval, or a zero window
// when no interval has closed yet.
func Latest(now time.Time, latency time.Duration) Window {
	end := midnight(now).Add(latency)
	if end.After(now) {
		end = end.Add(-24 * time.Hour)
	}
	return Window{Start: end.Add(-24 * time.Hour), End: end}
}

func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
