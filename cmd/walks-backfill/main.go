package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/murtazakamran18/count-steps/internal/db"
)

func main() {
	var dbPath string
	var startStr string
	var endStr string
	var gapSeconds float64
	var minSteps int
	var modelVer string

	flag.StringVar(&dbPath, "db", "steps_data.db", "path to sqlite db")
	flag.StringVar(&startStr, "start", "", "start time (RFC3339)")
	flag.StringVar(&endStr, "end", "", "end time (RFC3339)")
	flag.Float64Var(&gapSeconds, "gap", 20, "walk gap in seconds")
	flag.IntVar(&minSteps, "min-steps", 10, "minimum steps per walk")
	flag.StringVar(&modelVer, "model", "manual-backfill", "model version string for walks")
	flag.Parse()

	if startStr == "" || endStr == "" {
		log.Fatalf("start and end must be provided")
	}

	startT, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		log.Fatalf("invalid start: %v", err)
	}
	endT, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		log.Fatalf("invalid end: %v", err)
	}

	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	w := db.NewWalkWorker(dbConn, gapSeconds, minSteps, modelVer)

	// run the backfill in worker-window slices (no wait) until the range is covered
	t := startT.UTC()
	for t.Before(endT.UTC()) {
		windowStart := t
		windowEnd := t.Add(w.Window)
		if windowEnd.After(endT.UTC()) {
			windowEnd = endT.UTC()
		}
		fmt.Printf("backfilling window %s -> %s\n", windowStart, windowEnd)
		if err := w.RunRange(context.TODO(), windowStart.UnixMilli(), windowEnd.UnixMilli()); err != nil {
			log.Fatalf("runrange failed: %v", err)
		}
		t = windowEnd
	}

	fmt.Println("backfill complete")
}
