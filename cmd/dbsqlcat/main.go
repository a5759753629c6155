// Command dbsqlcat runs one statement on a SQL warehouse and prints the
// result as tab separated rows.
//
//	DATABRICKS_HOST=... DATABRICKS_ACCESSTOKEN=... DATABRICKS_WAREHOUSE_ID=... \
//	    dbsqlcat -links -config stream.yaml "select * from samples.nyctaxi.trips"
package main

import (
	"context"
	"database/sql/driver"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	dbsql "github.com/databricks/databricks-sql-stream"
	"github.com/databricks/databricks-sql-stream/internal/client"
	"github.com/databricks/databricks-sql-stream/logger"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		links       = flag.Bool("links", false, "download results as external link chunks")
		configFile  = flag.String("config", "", "YAML file with result streaming settings")
		envFile     = flag.String("env", ".env", "dotenv file with connection settings")
		logLevel    = flag.String("log", "warn", "log level")
		metricsAddr = flag.String("metrics", "", "serve prometheus metrics on this address")
		timeout     = flag.Duration("timeout", 5*time.Minute, "statement timeout")
	)
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: dbsqlcat [flags] <statement>")
		os.Exit(2)
	}

	if err := logger.SetLogLevel(*logLevel); err != nil {
		panic(err)
	}
	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			panic(err)
		}
	}

	rc, err := client.NewRestClient(client.Config{
		Host:        os.Getenv("DATABRICKS_HOST"),
		AccessToken: os.Getenv("DATABRICKS_ACCESSTOKEN"),
		WarehouseId: os.Getenv("DATABRICKS_WAREHOUSE_ID"),
		Catalog:     os.Getenv("DATABRICKS_CATALOG"),
		Schema:      os.Getenv("DATABRICKS_SCHEMA"),
		Links:       *links,
	})
	if err != nil {
		panic(err)
	}

	opts := []dbsql.ResultOption{}
	if *configFile != "" {
		opts = append(opts, dbsql.WithConfigFile(*configFile))
	}
	opts = append(opts, dbsql.WithEnvironment())

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, dbsql.WithMetricsRegisterer(reg))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Err(http.ListenAndServe(*metricsAddr, mux)).Msg("metrics server stopped")
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	res, err := rc.Execute(ctx, flag.Arg(0))
	if err != nil {
		panic(err)
	}

	rows, err := dbsql.NewRows(ctx, rc, res, opts...)
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	if err := printRows(os.Stdout, rows); err != nil {
		panic(err)
	}
}

func printRows(w io.Writer, rows driver.Rows) error {
	cols := rows.Columns()
	fmt.Fprintln(w, strings.Join(cols, "\t"))

	dest := make([]driver.Value, len(cols))
	cells := make([]string, len(cols))
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		for i, v := range dest {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}
