package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ppg-validator/internal/analytics"
	"ppg-validator/internal/events"
	"ppg-validator/internal/models"
	ppgsignal "ppg-validator/internal/signal"
	"ppg-validator/internal/source"
	"ppg-validator/internal/store"
)

func main() {
	os.Exit(run())
}

// run возвращает код выхода: 1 при ошибке конфигурации или загрузки, 2 при неверном вызове
func run() int {
	defaults := analytics.DefaultConfig()

	var (
		dataDir    = flag.String("dir", ".", "Каталог с CSV записями <id>.csv")
		track      = flag.String("track", "PLETH", "Канал PPG в CSV")
		hz         = flag.Int("hz", defaults.Hz, "Частота дискретизации, Гц")
		nsec       = flag.Float64("nsec", defaults.NSec, "Длина окна, секунды")
		beatThr    = flag.Float64("beat-threshold", defaults.BeatPropThreshold, "Порог score удара")
		abnThr     = flag.Float64("abnormality-threshold", defaults.AbnormalityThreshold, "Порог доли аномальных ударов в окне")
		fileThr    = flag.Float64("file-threshold", defaults.FileThreshold, "Порог доли аномальных окон в записи")
		missing    = flag.Bool("missing-peaks-abnormal", false, "Считать окна без пиков аномальными")
		workers    = flag.Int("workers", 4, "Число горутин для окон")
		dbPath     = flag.String("db", "", "SQLite файл для сохранения вердиктов (пусто: не сохранять)")
		jsonOutput = flag.Bool("json", false, "Печатать результат в JSON")
	)
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ppgcheck [flags] <recording-id>...")
		flag.PrintDefaults()
		return 2
	}

	cfg := analytics.Config{
		Hz:                   *hz,
		NSec:                 *nsec,
		BeatPropThreshold:    *beatThr,
		AbnormalityThreshold: *abnThr,
		FileThreshold:        *fileThr,
		MissingPeaksAbnormal: *missing,
		Workers:              *workers,
	}

	validator, err := analytics.NewValidator(cfg, ppgsignal.NewPeakDetector(), ppgsignal.NewPreprocessor())
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	var verdictStore *store.Store
	if *dbPath != "" {
		verdictStore, err = store.Open(*dbPath)
		if err != nil {
			log.Printf("Failed to open verdict store: %v", err)
			return 1
		}
		defer verdictStore.Close()
	}

	src := source.NewCSVSource(*dataDir)
	failed := false

	for _, id := range flag.Args() {
		rec, err := check(validator, src, verdictStore, id, *track, cfg)
		if err != nil {
			if errors.Is(err, analytics.ErrInvalidConfiguration) {
				log.Printf("Invalid configuration: %v", err)
				return 1
			}
			fmt.Fprintf(os.Stderr, "%s: %v\n", id, err)
			failed = true
			continue
		}

		if *jsonOutput {
			if err := json.NewEncoder(os.Stdout).Encode(rec); err != nil {
				log.Printf("Failed to encode result: %v", err)
			}
			continue
		}
		fmt.Printf("%s\t%s\n", id, rec.Summary)
	}

	if failed {
		return 1
	}
	return 0
}

type checkResult struct {
	Summary string                `json:"summary"`
	Record  *models.VerdictRecord `json:"record"`
	Event   events.Summary        `json:"event"`
}

// check классифицирует одну запись и при необходимости сохраняет вердикт
func check(v *analytics.Validator, src *source.CSVSource, st *store.Store, id, track string, cfg analytics.Config) (*checkResult, error) {
	samples, err := src.Load(id, track, cfg.Hz)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := v.ClassifyRecording(samples, cfg)
	if err != nil {
		return nil, err
	}
	took := time.Since(start)

	rec := models.NewVerdictRecord(id, track, cfg, result)
	if st != nil {
		if err := st.SaveVerdict(context.Background(), rec); err != nil {
			return nil, fmt.Errorf("failed to save verdict: %w", err)
		}
	}

	return &checkResult{
		Summary: result.Summary(),
		Record:  rec,
		Event:   events.NewSummary(rec.ID, id, track, result, took),
	}, nil
}
