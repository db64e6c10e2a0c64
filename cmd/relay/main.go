package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/esgrima/relay/internal/config"
	"github.com/esgrima/relay/internal/relay"
	"github.com/esgrima/relay/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	genToken := flag.Bool("gen-token", false, "Print a fresh auth token and exit")
	flag.Parse()

	if *genToken {
		token, err := config.GenerateToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		fmt.Println(token)
		return
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	clients := relay.NewClientRegistry()
	rooms := relay.NewRoomRegistry()
	fanout := relay.NewFanout(clients)
	dispatcher := relay.NewDispatcher(clients, rooms, fanout)

	server := ws.NewServer(cfg, dispatcher, clients, rooms)
	router := mux.NewRouter()
	server.SetupRoutes(router)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, router); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
