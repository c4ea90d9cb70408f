package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/yungbote/gpuhub/internal/app"
)

func main() {
	var jobID string
	var workerID string
	var showStats bool
	flag.StringVar(&jobID, "job", "", "print the job record with this id")
	flag.StringVar(&workerID, "worker", "", "print the worker record with this id")
	flag.BoolVar(&showStats, "stats", false, "print a one-shot stats snapshot")
	flag.Parse()

	a, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx := context.Background()

	if jobID != "" {
		job, err := a.Queue.Get(ctx, jobID)
		if err != nil {
			fmt.Printf("get job %s: %v\n", jobID, err)
			os.Exit(1)
		}
		printJSON(job)
	}

	if workerID != "" {
		w, err := a.Registry.Get(ctx, workerID)
		if err != nil {
			fmt.Printf("get worker %s: %v\n", workerID, err)
			os.Exit(1)
		}
		printJSON(w)
	}

	if showStats {
		snap, err := a.Stats.Collect(ctx)
		if err != nil {
			fmt.Printf("collect stats: %v\n", err)
			os.Exit(1)
		}
		printJSON(snap)
	}

	if jobID == "" && workerID == "" && !showStats {
		fmt.Println("nothing to do; pass -job, -worker, or -stats")
	}
}

func printJSON(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("marshal output: %v\n", err)
		return
	}
	fmt.Println(string(raw))
}
