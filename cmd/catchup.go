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
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/schedule"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/util"
)

// catchupCmd backfills every closed daily window between the configured
// start date and now, oldest first, skipping none. Re-running is safe:
// already-loaded rows are skipped by the loader's conflict policy.
var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Backfill all daily windows from the configured start date",
	Run: func(cmd *cobra.Command, args []string) {
		lg, cleanup := logger()
		defer cleanup()

		ctx := util.WithLogger(context.Background(), lg)

		cfg, err := appConfiguration()
		if err != nil {
			panic(lg.ErrorErr(fmt.Errorf("failed to load configuration: %w", err)))
		}

		r, cleanup, err := runner(ctx)
		if err != nil {
			panic(lg.ErrorErr(fmt.Errorf("failed to set up pipeline: %w", err)))
		}
		defer cleanup()

		windows := schedule.Daily(cfg.StartDate, time.Now().UTC(), r.Latency)
		if len(windows) == 0 {
			lg.Defaultf("no closed windows to backfill since %s", cfg.StartDate.Format("2006-01-02"))
			return
		}
		lg.Defaultf("backfilling %d windows from %s", len(windows), cfg.StartDate.Format("2006-01-02"))

		rep := r.Run(ctx, windows)

		for _, f := range rep.Failures() {
			lg.Warningf("instance %s failed at %s after %d attempts: %v", f.Instance, f.Step, f.Attempts, f.Err)
		}
		lg.Defaultf("%s", rep.Summary())

		if rep.AllFailed() {
			panic(lg.ErrorErr(fmt.Errorf("all pipeline instances failed during catchup")))
		}
	},
}

func init() {
	rootCmd.AddCommand(catchupCmd)
}
