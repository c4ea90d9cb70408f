package main

import (
	"fmt"
	"os"

	"github.com/yungbote/gpuhub/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize hub: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		fmt.Printf("failed to start background tasks: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("gpuhub listening on :%s\n", a.Cfg.ListenPort)
	if err := a.Run(":" + a.Cfg.ListenPort); err != nil {
		a.Log.Warn("server failed", "error", err)
	}
}
