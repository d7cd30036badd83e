// Command predict loads the configured artifacts and prices a single house,
// printing the prediction as JSON.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"houseprice/config"
	"houseprice/ml"
	"houseprice/pipeline"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now func() time.Time) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	record := fs.String("record", "", "house record as a JSON object; overrides the field flags")
	sqft := fs.Float64("sqft", 0, "living area in square feet")
	bedrooms := fs.Int("bedrooms", 0, "number of bedrooms")
	bathrooms := fs.Float64("bathrooms", 0, "number of bathrooms")
	location := fs.String("location", "", "location category")
	yearBuilt := fs.Int("year_built", 0, "construction year")
	condition := fs.String("condition", "", "condition category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	raw := map[string]any{}
	if *record != "" {
		if err := json.Unmarshal([]byte(*record), &raw); err != nil {
			return fmt.Errorf("invalid -record: %w", err)
		}
	} else {
		// 未设置的标志视为缺失字段
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "sqft":
				raw["sqft"] = *sqft
			case "bedrooms":
				raw["bedrooms"] = *bedrooms
			case "bathrooms":
				raw["bathrooms"] = *bathrooms
			case "location":
				raw["location"] = *location
			case "year_built":
				raw["year_built"] = *yearBuilt
			case "condition":
				raw["condition"] = *condition
			}
		})
	}

	layout, err := ml.NewLayout(cfg.Validation.Locations, cfg.Validation.Conditions)
	if err != nil {
		return err
	}
	validator, err := pipeline.NewValidator(cfg.Validation.Rules(now))
	if err != nil {
		return err
	}
	orchestrator, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		MaxBatchSize: cfg.Batch.MaxSize,
		Workers:      cfg.Batch.Workers,
	}, validator, ml.NewEngineer(layout, now), nil)
	if err != nil {
		return err
	}
	predictor, err := ml.LoadPredictor(cfg.Artifacts.PreprocessorPath, cfg.Artifacts.ModelPath, layout)
	if err != nil {
		return err
	}
	service := pipeline.NewService(orchestrator, nil)
	service.Ready(predictor)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	result, err := service.PredictOne(raw)
	if err != nil {
		var validationErr *pipeline.ValidationError
		var predictionErr *ml.PredictionError
		if errors.As(err, &validationErr) || errors.As(err, &predictionErr) {
			if encErr := enc.Encode(map[string]any{"error": pipeline.Describe(err)}); encErr != nil {
				return encErr
			}
		}
		return err
	}
	return enc.Encode(result)
}
