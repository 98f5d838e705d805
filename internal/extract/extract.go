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
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
)

// Raw is one provider-shaped record. Field names and value types vary per
// source type and are only interpreted by the matching transform rules.
type Raw map[string]interface{}

// Extractor fetches raw records for one symbol over a half-open date
// window [from, to). Sources without a window ignore from and to. An empty
// result with a nil error means the provider had no data for the window.
type Extractor interface {
	Extract(ctx context.Context, symbol, from, to string) ([]Raw, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, symbol, from, to string) ([]Raw, error)

func (f Func) Extract(ctx context.Context, symbol, from, to string) ([]Raw, error) {
	return f(ctx, symbol, from, to)
}

var ErrTooManyRequests = errors.New("error: too many requests")

func handleErr(msg string, resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", msg, ErrTooManyRequests)
	default:
		body, err2 := ioutil.ReadAll(resp.Body)
		if err2 != nil {
			return fmt.Errorf("error while parsing error response %v. %s: %w", err2, msg, err)
		}
		return fmt.Errorf("%s: %w (%s)", msg, err, string(body))
	}
}

// unmarshalBody decodes the buffered response body into v. The generated
// client replaces the consumed body with a rewindable copy, so this reads
// fields the typed models do not carry.
func unmarshalBody(resp *http.Response, v interface{}) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
