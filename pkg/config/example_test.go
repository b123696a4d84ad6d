package config_test

import (
	"fmt"

	"github.com/wonny/altquant/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	fmt.Printf("Server running on port: %s\n", cfg.Port)
	fmt.Printf("Result store: %s\n", cfg.StoreBackend)
	fmt.Printf("Feed: %s (%.0f req/s)\n", cfg.AltData.BaseURL, cfg.AltData.RequestsPerSec)
	fmt.Printf("Optimizer workers: %d, timeout %s\n", cfg.Optimizer.DefaultWorkers, cfg.Optimizer.Timeout)
}
