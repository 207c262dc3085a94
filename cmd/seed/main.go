package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"epichat-be/internal/config"
)

// seed writes example datasets into DATA_DIR so a fresh install has something to attach
func main() {
	force := flag.Bool("force", false, "overwrite existing files")
	rows := flag.Int("rows", 400, "rows per dataset")
	seed := flag.Int64("seed", 7, "random seed")
	flag.Parse()

	cfg := config.Load()
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		log.Fatalf("Error: create data dir: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	datasets := map[string]func(*rand.Rand, int) [][]string{
		"test_positivity.csv": positivity,
		"vaccination.csv":     vaccination,
	}

	for name, build := range datasets {
		path := filepath.Join(cfg.Data.Dir, name)
		if _, err := os.Stat(path); err == nil && !*force {
			log.Printf("Skip: %s exists (use -force to overwrite)", path)
			continue
		}
		if err := writeCSV(path, build(rng, *rows)); err != nil {
			log.Fatalf("Error: write %s: %v", path, err)
		}
		log.Printf("✅ Seeded %s", path)
	}
}

var districts = []string{"north", "south", "east", "west", "central"}

func positivity(rng *rand.Rand, n int) [][]string {
	out := [][]string{{"district", "setting", "week", "tests", "positives", "positivity"}}
	for i := 0; i < n; i++ {
		setting := "urban"
		base := 0.08
		if rng.Intn(3) == 0 {
			setting = "rural"
			base = 0.12
		}
		tests := 50 + rng.Intn(450)
		rate := base + rng.NormFloat64()*0.02
		if rate < 0 {
			rate = 0
		}
		positives := int(float64(tests) * rate)
		out = append(out, []string{
			districts[rng.Intn(len(districts))],
			setting,
			fmt.Sprint(1 + i%52),
			fmt.Sprint(tests),
			fmt.Sprint(positives),
			fmt.Sprintf("%.4f", float64(positives)/float64(tests)),
		})
	}
	return out
}

func vaccination(rng *rand.Rand, n int) [][]string {
	bands := []string{"0-17", "18-49", "50-64", "65+"}
	out := [][]string{{"district", "age_band", "population", "vaccinated", "coverage"}}
	for i := 0; i < n; i++ {
		population := 1000 + rng.Intn(9000)
		coverage := 0.55 + rng.Float64()*0.4
		vaccinated := int(float64(population) * coverage)
		out = append(out, []string{
			districts[rng.Intn(len(districts))],
			bands[rng.Intn(len(bands))],
			fmt.Sprint(population),
			fmt.Sprint(vaccinated),
			fmt.Sprintf("%.4f", float64(vaccinated)/float64(population)),
		})
	}
	return out
}

func writeCSV(path string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
