// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/bokobox/internal/app"
	"github.com/relabs-tech/bokobox/internal/config"
	"github.com/relabs-tech/bokobox/internal/serialport"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	log.Println("starting bokobox locator (serial → web/MQTT)")

	// A missing file means defaults; a broken one is fatal.
	if err := config.InitGlobal(*configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("failed to load config: %v", err)
		}
		log.Printf("warning: %s not found, using defaults", *configPath)
		config.InitGlobalDefault()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunLocator(ctx); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Println("locator stopped")
}
