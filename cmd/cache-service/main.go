package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/peakfeed/cache-service/service"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the service configuration file")
	flag.Parse()

	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.NewService(mainCtx, *configPath)
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		fmt.Printf("Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
