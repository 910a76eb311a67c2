package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqhi-etl/internal/adapter/pagefs"
	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/ingest"
	"github.com/couchcryptid/aqhi-etl/internal/pipeline"
)

const pageBatchSize = 50

// errorParse labels pages that fail before a record can be built.
const errorParse ingest.ErrorType = "ParseError"

// pageFailure is one page that produced no record.
type pageFailure struct {
	File      string           `json:"file"`
	ErrorType ingest.ErrorType `json:"error_type"`
	Info      any              `json:"info"`
}

type collectReport struct {
	Created  map[string]int `json:"created"`
	Failures []pageFailure  `json:"failures"`
}

func extractCmd(a *app) *cobra.Command {
	var withAQHI bool

	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Print the aggregated record of one page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			html, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			r, err := a.rules()
			if err != nil {
				return err
			}
			rec, err := pipeline.NewTransformer(r).Aggregate(string(html))
			if err != nil {
				return err
			}
			if withAQHI {
				aqhi.AppendAQHI(&rec)
			}
			return a.printJSON(rec)
		},
	}
	cmd.Flags().BoolVar(&withAQHI, "aqhi", false, "add the simple AQHI to every record")
	return cmd
}

func registerCmd(a *app) *cobra.Command {
	var cities []string

	cmd := &cobra.Command{
		Use:   "register DIR",
		Short: "Create the cities and stations named by stored pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger()

			pages, failures, err := a.readPages(ctx, args[0], cities)
			if err != nil {
				return err
			}
			for _, f := range failures {
				logger.Warn("page skipped", "file", f.File, "error", f.Info)
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			geocoder, err := a.geocoder(logger)
			if err != nil {
				return err
			}
			report, err := ingest.NewRegistrar(store, geocoder, logger).Register(ctx, pages)
			if err != nil {
				return err
			}
			return a.printJSON(report)
		},
	}
	cmd.Flags().StringSliceVar(&cities, "city", nil, "only pages of these city keys (repeatable)")
	a.geocodeFlags(cmd)
	return cmd
}

func collectCmd(a *app) *cobra.Command {
	var (
		cities   []string
		register bool
	)

	cmd := &cobra.Command{
		Use:   "collect DIR",
		Short: "Store the records of every page under DIR",
		Long: `Store the records of every page under DIR.

Pages are files named {city}.html at any depth. A page that fails to parse
or to store is listed with its error and does not stop the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger()

			pages, failures, err := a.readPages(ctx, args[0], cities)
			if err != nil {
				return err
			}

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var registrar *ingest.Registrar
			if register {
				geocoder, err := a.geocoder(logger)
				if err != nil {
					return err
				}
				registrar = ingest.NewRegistrar(store, geocoder, logger)
			}

			report := collectReport{Created: map[string]int{}, Failures: failures}
			svc := ingest.NewService(store, logger)
			for _, page := range pages {
				if registrar != nil {
					_, err := registrar.Register(ctx, []domain.CityPage{page})
					var verr *domain.ValidationError
					if errors.As(err, &verr) {
						report.Failures = append(report.Failures, pageFailure{File: page.Source, ErrorType: ingest.ErrorValidation, Info: verr.Fields})
						continue
					}
					if err != nil {
						return err
					}
				}
				res, err := svc.CreateCityRecord(ctx, page)
				if err != nil {
					return err
				}
				if res.Success {
					report.Created[page.CityKey]++
					continue
				}
				report.Failures = append(report.Failures, pageFailure{File: page.Source, ErrorType: res.ErrorType, Info: res.Info})
			}
			sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].File < report.Failures[j].File })
			return a.printJSON(report)
		},
	}
	cmd.Flags().StringSliceVar(&cities, "city", nil, "only pages of these city keys (repeatable)")
	cmd.Flags().BoolVar(&register, "register", false, "register cities and stations before storing records")
	a.geocodeFlags(cmd)
	return cmd
}

// readPages transforms every page under dir. Pages that fail to transform
// are returned as failures rather than an error.
func (a *app) readPages(ctx context.Context, dir string, cities []string) ([]domain.CityPage, []pageFailure, error) {
	r, err := a.rules()
	if err != nil {
		return nil, nil, err
	}
	transformer := pipeline.NewTransformer(r)
	source := pagefs.New(os.DirFS(dir), cities...)

	var (
		pages    []domain.CityPage
		failures []pageFailure
	)
	for {
		batch, err := source.ExtractBatch(ctx, pageBatchSize)
		if err != nil {
			return nil, nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, raw := range batch {
			page, err := transformer.Transform(ctx, raw)
			if err != nil {
				failures = append(failures, pageFailure{File: string(raw.Key), ErrorType: errorParse, Info: err.Error()})
				continue
			}
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 && len(failures) == 0 {
		return nil, nil, fmt.Errorf("no pages match %s under %s", pagefs.Pattern(cities...), dir)
	}
	return pages, failures, nil
}
