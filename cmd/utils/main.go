package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/tableside/cmd/utils/internal/commands"
)

const (
	appName    = "tableside-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	// forget-* commands take the restaurant id as their first argument.
	var restaurantID string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		restaurantID, args = args[0], args[1:]
	}

	config, err := apt.LoadConfig("UTILS", args)
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel, _ := config.GetString("log.level")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := apt.NewLogger(logLevel)

	ctx := context.Background()
	path := commands.StorePath(config)

	switch command {
	case "dump":
		if err := commands.Dump(ctx, path, logger, os.Stdout); err != nil {
			log.Fatalf("Dump failed: %v", err)
		}

	case "clear-cart":
		if err := commands.ClearCart(ctx, path, logger); err != nil {
			log.Fatalf("Clear cart failed: %v", err)
		}
		logger.Info("Cart cleared")

	case "forget-table":
		if err := commands.ForgetTable(ctx, path, logger, restaurantID); err != nil {
			log.Fatalf("Forget table failed: %v", err)
		}
		logger.Info("Table forgotten", "restaurant_id", restaurantID)

	case "forget-customer":
		if err := commands.ForgetCustomer(ctx, path, logger, restaurantID); err != nil {
			log.Fatalf("Forget customer failed: %v", err)
		}
		logger.Info("Customer forgotten", "restaurant_id", restaurantID)

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - Tableside store maintenance

Usage:
  %s <command> [restaurant-id] [options]

Commands:
  dump                             Print every stored key as YAML
  clear-cart                       Remove the stored cart and its restaurant
  forget-table <restaurant-id>     Remove the remembered table and token
  forget-customer <restaurant-id>  Remove the remembered name and phone
  version                          Print version information
  help                             Show this help message

Environment Variables:
  UTILS_STORE_PATH   SQLite store used by tableside (default: tableside.db)
  UTILS_LOG_LEVEL    Log level: debug, info, warn, error (default: info)

Examples:
  %s dump
  %s forget-table 64f1c2
  UTILS_STORE_PATH=/var/lib/tableside/tableside.db %s clear-cart

`, appName, appName, appName, appName, appName)
}
