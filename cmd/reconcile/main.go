package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"github.com/stowagehq/stowage-backend/internal/app"
)

// One-shot catalog sweep. Runs the same repair pass as the background
// reconciler and prints the report, for operators and cron.
func main() {
	os.Exit(run())
}

func run() int {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	flag.Parse()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		return 1
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := application.Services.Reconciler.Sweep(ctx)
	if err != nil {
		application.Log.Error("sweep failed", "error", err.Error())
		return 1
	}

	out, err := sonic.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Printf("encode report: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
