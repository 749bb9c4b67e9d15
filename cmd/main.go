package main

import (
	"fmt"
	"os"

	"github.com/stowagehq/stowage-backend/internal/app"
	"github.com/stowagehq/stowage-backend/internal/utils"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	application.Start()

	port := utils.GetEnv("PORT", "8080", application.Log)
	application.Log.Info("server listening", "port", port)
	if err := application.Run(":" + port); err != nil {
		application.Log.Error("server failed", "error", err.Error())
	}
}
