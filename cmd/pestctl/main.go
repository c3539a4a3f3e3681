// pestctl runs pipeline batch operations once and prints the result as JSON.
//
// Usage:
//
//	pestctl aggregate --company acme --start 2024-07-01 --end 2024-07-31
//	pestctl train --company acme --pest ants --start 2024-01-01
//	pestctl train-scope --scope state:TX --start 2024-01-01
//	pestctl predict --scope company:acme --pest ants
//	pestctl models --scope state:TX --model-type seasonal_forecast
//	pestctl activate --id <model-id>
//	pestctl migrate
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/couchcryptid/pest-pressure-pipeline/internal/app"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/config"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/domain"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/observability"
	"github.com/couchcryptid/pest-pressure-pipeline/internal/pipeline"
)

func main() {
	if err := newApp(clockwork.NewRealClock(), os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(clock clockwork.Clock, out, logOut io.Writer) *cli.App {
	r := &runner{clock: clock, out: out, logOut: logOut}
	return &cli.App{
		Name:  "pestctl",
		Usage: "Run pest-pressure batch operations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Store backend (postgres, memory)",
				EnvVars: []string{"STORE_BACKEND"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "aggregate",
				Usage: "Extract observations from a company's calls, forms, and leads",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "company", Aliases: []string{"c"}, Usage: "Company ID", Required: true},
					startFlag(true),
					endFlag(),
				},
				Action: r.aggregate,
			},
			{
				Name:  "train",
				Usage: "Train models on one company's observations",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "company", Aliases: []string{"c"}, Usage: "Company ID", Required: true},
					pestFlag(),
					startFlag(true),
					endFlag(),
					modelTypeFlag(),
				},
				Action: r.train,
			},
			{
				Name:  "train-scope",
				Usage: "Train models on observations pooled across a geographic scope",
				Flags: []cli.Flag{
					scopeFlag(),
					pestFlag(),
					startFlag(true),
					endFlag(),
					modelTypeFlag(),
				},
				Action: r.trainScope,
			},
			{
				Name:  "predict",
				Usage: "Forecast pest pressure with a scope's active models",
				Flags: []cli.Flag{
					scopeFlag(),
					pestFlag(),
					startFlag(false),
					endFlag(),
				},
				Action: r.predict,
			},
			{
				Name:  "models",
				Usage: "List stored model versions for a scope, newest first",
				Flags: []cli.Flag{
					scopeFlag(),
					pestFlag(),
					&cli.StringFlag{Name: "model-type", Aliases: []string{"m"}, Usage: "seasonal_forecast or anomaly_detection", Required: true},
				},
				Action: r.models,
			},
			{
				Name:  "activate",
				Usage: "Make a stored model version active, superseding the current one",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Model ID", Required: true},
				},
				Action: r.activate,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: r.migrate,
			},
		},
	}
}

func startFlag(required bool) cli.Flag {
	return &cli.StringFlag{Name: "start", Aliases: []string{"s"}, Usage: "Window start (YYYY-MM-DD)", Required: required}
}

func endFlag() cli.Flag {
	return &cli.StringFlag{Name: "end", Aliases: []string{"e"}, Usage: "Window end (YYYY-MM-DD)"}
}

func pestFlag() cli.Flag {
	return &cli.StringFlag{Name: "pest", Aliases: []string{"p"}, Usage: "Pest type; empty means all pests"}
}

func scopeFlag() cli.Flag {
	return &cli.StringFlag{Name: "scope", Usage: "Scope key, e.g. company:acme, state:TX, city:TX:austin, region:OK,TX, national", Required: true}
}

func modelTypeFlag() cli.Flag {
	return &cli.StringSliceFlag{Name: "model-type", Aliases: []string{"m"}, Usage: "Model types to train; defaults to both"}
}

type runner struct {
	clock  clockwork.Clock
	out    io.Writer
	logOut io.Writer
}

// open loads configuration and assembles the service for one command.
func (r *runner) open(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if s := c.String("store"); s != "" {
		cfg.StoreBackend = s
	}
	return app.New(c.Context, cfg, r.clock, r.logger(cfg), observability.NewUnregisteredMetrics())
}

// logger writes to logOut so results on out stay machine readable.
func (r *runner) logger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(r.logOut, opts))
	}
	return slog.New(slog.NewJSONHandler(r.logOut, opts))
}

func (r *runner) print(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// window parses --start and --end. A missing end means today.
func (r *runner) window(c *cli.Context) (time.Time, time.Time, error) {
	start, err := parseDate(c.String("start"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}
	end := domain.Day(r.clock.Now())
	if s := c.String("end"); s != "" {
		if end, err = parseDate(s); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	if !start.IsZero() && end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", domain.DateKey(end), domain.DateKey(start))
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

func modelTypes(c *cli.Context) ([]domain.ModelType, error) {
	names := c.StringSlice("model-type")
	out := make([]domain.ModelType, 0, len(names))
	for _, n := range names {
		t, err := domain.ParseModelType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *runner) aggregate(c *cli.Context) error {
	start, end, err := r.window(c)
	if err != nil {
		return err
	}
	a, err := r.open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	// The end date is inclusive.
	res, err := a.Service.Aggregate(c.Context, c.String("company"), start, end.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		return err
	}
	return r.print(res)
}

func (r *runner) train(c *cli.Context) error {
	return r.runTrain(c, domain.CompanyScope(c.String("company")), false)
}

func (r *runner) trainScope(c *cli.Context) error {
	scope, err := domain.ParseScope(c.String("scope"))
	if err != nil {
		return err
	}
	return r.runTrain(c, scope, true)
}

func (r *runner) runTrain(c *cli.Context, scope domain.Scope, geographic bool) error {
	start, end, err := r.window(c)
	if err != nil {
		return err
	}
	types, err := modelTypes(c)
	if err != nil {
		return err
	}
	a, err := r.open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	req := pipeline.TrainRequest{Scope: scope, PestType: c.String("pest"), Start: start, End: end, ModelTypes: types}
	var res pipeline.TrainResult
	if geographic {
		res, err = a.Service.TrainScope(c.Context, req)
	} else {
		res, err = a.Service.Train(c.Context, req)
	}
	// Partial failures still published some models; print them before failing.
	if len(res.Models) > 0 || err == nil {
		if perr := r.print(res); perr != nil {
			return perr
		}
	}
	return err
}

func (r *runner) predict(c *cli.Context) error {
	scope, err := domain.ParseScope(c.String("scope"))
	if err != nil {
		return err
	}
	start, err := parseDate(c.String("start"))
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseDate(c.String("end"))
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	a, err := r.open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	pred, err := a.Service.Predict(c.Context, pipeline.PredictRequest{Scope: scope, PestType: c.String("pest"), Start: start, End: end})
	if err != nil {
		return err
	}
	return r.print(pred)
}

func (r *runner) models(c *cli.Context) error {
	scope, err := domain.ParseScope(c.String("scope"))
	if err != nil {
		return err
	}
	t, err := domain.ParseModelType(c.String("model-type"))
	if err != nil {
		return err
	}
	a, err := r.open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	models, err := a.Service.Models(c.Context, domain.ModelKey{Scope: scope.Key(), ModelType: t, PestType: c.String("pest")})
	if err != nil {
		return err
	}
	return r.print(models)
}

func (r *runner) activate(c *cli.Context) error {
	a, err := r.open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Service.Activate(c.Context, c.String("id")); err != nil {
		return err
	}
	return r.print(map[string]string{"activated": c.String("id")})
}

func (r *runner) migrate(c *cli.Context) error {
	a, err := r.open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Migrate(c.Context)
}
