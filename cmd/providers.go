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
	"net/url"
	"time"

	"github.com/ajjensen13/config"
	"github.com/ajjensen13/gke"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/dribblewithclong/stocks-data-pipeline/internal/extract"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/load"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/pipeline"
	"github.com/dribblewithclong/stocks-data-pipeline/internal/transform"
)

const (
	dbSecretName  = "stocks-db-secret.json"
	appConfigName = "stocks-config-cm.json"
	apiSecretName = "stocks-api-secret.json"
)

type appConfig struct {
	Symbols            []string  `json:"symbols"`
	StartDate          time.Time `json:"start_date"`
	LatencyHours       int       `json:"latency_hours"`
	DataSourceName     string    `json:"data_source_name"`
	MigrationSourceURL string    `json:"migration_source_url"`
}

type appSecrets struct {
	ApiKey string `json:"api_key"`
}

func provideAppConfig() (*appConfig, error) {
	var result appConfig
	err := config.InterfaceJson(appConfigName, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Symbols) == 0 {
		result.Symbols = []string{"META", "AMZN", "AAPL", "NFLX", "GOOGL", "TSLA", "MSFT"}
	}
	if result.StartDate.IsZero() {
		result.StartDate = time.Date(2022, time.April, 1, 0, 0, 0, 0, time.UTC)
	}
	if result.LatencyHours <= 0 {
		result.LatencyHours = 2
	}
	return &result, nil
}

func provideAppSecrets() (*appSecrets, error) {
	var result appSecrets
	err := config.InterfaceJson(apiSecretName, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func provideDbSecrets() (*url.Userinfo, error) {
	ui, err := config.Userinfo(dbSecretName)
	if err != nil {
		return nil, err
	}
	return ui, nil
}

func provideDataSourceName(user *url.Userinfo, cfg *appConfig) (dsn *url.URL, err error) {
	dsn, err = url.Parse(cfg.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to parse data source name: %w", err)
	}
	dsn.User = user

	return dsn, nil
}

func provideDbConnPool(ctx context.Context, dsn *url.URL) (ret *pgxpool.Pool, cleanup func(), err error) {
	pool, err := pgxpool.Connect(ctx, dsn.String())
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open database connection pool: %w", err)
	}

	return pool, pool.Close, nil
}

func provideExtractClient(secrets *appSecrets) *extract.Client {
	return extract.NewClient(secrets.ApiKey)
}

func provideLoader(pool *pgxpool.Pool) load.Loader {
	return load.New(pool)
}

func provideBackOffFactory() pipeline.BackOffFactory {
	return func() backoff.BackOff {
		result := backoff.NewExponentialBackOff()
		result.InitialInterval = time.Second
		result.MaxElapsedTime = time.Minute
		return result
	}
}

func provideRunner(cfg *appConfig, client *extract.Client, loader load.Loader, nb pipeline.BackOffFactory) *pipeline.Runner {
	return &pipeline.Runner{
		Sources:    client.Sources(),
		Specs:      transform.Specs(),
		Loader:     loader,
		Symbols:    cfg.Symbols,
		Latency:    time.Duration(cfg.LatencyHours) * time.Hour,
		NewBackOff: nb,
	}
}

func provideLogger() (lg gke.Logger, cleanup func()) {
	lg, cleanup, err := gke.NewLogger(context.Background())
	if err != nil {
		panic(err)
	}

	gke.LogEnv(lg)
	gke.LogMetadata(lg)

	return lg, cleanup
}

func provideMigrationSourceURL(cfg *appConfig) string {
	return cfg.MigrationSourceURL
}

func provideMigrator(lg gke.Logger, databaseURL *url.URL, sourceURL string) (m *migrate.Migrate, err error) {
	m, err = migrate.New(sourceURL, databaseURL.String())
	if err != nil {
		return nil, err
	}
	m.Log = migrationLogger{lg}
	return m, err
}

type migrationLogger struct {
	gke.Logger
}

func (m migrationLogger) Printf(format string, v ...interface{}) {
	m.Defaultf(format, v...)
}

func (m migrationLogger) Verbose() bool {
	return false
}
