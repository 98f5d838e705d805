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

package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusEmpty     Status = "succeeded_empty"
	StatusFailed    Status = "failed"
)

// InstanceResult is the terminal outcome of one pipeline instance. Step
// names the failing step when Status is failed. Attempts counts every
// step execution of the instance, retries included.
type InstanceResult struct {
	Instance  Instance
	Status    Status
	Step      Step
	Attempts  int
	Rows      int
	Inserted  int64
	Conflicts int64
	Err       error
}

// Report collects instance results for one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	mu      sync.Mutex
	results []InstanceResult
}

func newReport() *Report {
	return &Report{RunID: uuid.NewString(), Started: time.Now().UTC()}
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished = time.Now().UTC()
}

func (r *Report) add(res InstanceResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Results returns a copy of all instance results.
func (r *Report) Results() []InstanceResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InstanceResult, len(r.results))
	copy(out, r.results)
	return out
}

// Failures returns the results of failed instances only.
func (r *Report) Failures() []InstanceResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []InstanceResult
	for _, res := range r.results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Degraded reports whether some, but not all, instances failed.
// Instances are independent, so a run with partial failures still did
// useful work.
func (r *Report) Degraded() bool {
	n := len(r.Failures())
	return n > 0 && n < len(r.Results())
}

// AllFailed reports whether every instance of a non-empty run failed.
func (r *Report) AllFailed() bool {
	total := len(r.Results())
	return total > 0 && len(r.Failures()) == total
}

func (r *Report) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var succeeded, empty, failed int
	var rows, inserted, conflicts int64
	for _, res := range r.results {
		switch res.Status {
		case StatusSucceeded:
			succeeded++
		case StatusEmpty:
			empty++
		case StatusFailed:
			failed++
		}
		rows += int64(res.Rows)
		inserted += res.Inserted
		conflicts += res.Conflicts
	}
	return fmt.Sprintf("run %s: %d succeeded, %d empty, %d failed; %d rows (%d inserted, %d duplicates skipped)",
		r.RunID, succeeded, empty, failed, rows, inserted, conflicts)
}
