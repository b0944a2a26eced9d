package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/grandcat/zeroconf"

	"github.com/asadovsky/cards/server/hub"
	"github.com/asadovsky/cards/server/store"
)

var (
	port     = flag.Int("port", 8080, "")
	storeURL = flag.String("store", "", "card store: mem:, bolt:<path>, postgres://..., redis://...; defaults from CARDS_STORE, DATABASE_URL or REDIS_ADDR")
	mdns     = flag.String("mdns", "", "if set, announce the hub over mDNS under this service type, e.g. _cards._tcp")
)

// defaultStore picks a store from the environment.
func defaultStore() string {
	if v := os.Getenv("CARDS_STORE"); v != "" {
		return v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		return "redis://" + v
	}
	return "mem:"
}

func main() {
	flag.Parse()
	if *storeURL == "" {
		*storeURL = defaultStore()
	}
	st, err := store.Open(context.Background(), *storeURL)
	if err != nil {
		log.Fatalf("open store %s: %v", *storeURL, err)
	}
	defer st.Close()

	if *mdns != "" {
		host, _ := os.Hostname()
		server, err := zeroconf.Register(fmt.Sprintf("cards-%s", host), *mdns, "local.", *port, []string{"path=/ws"}, nil)
		if err != nil {
			log.Fatalf("register mDNS service: %v", err)
		}
		defer server.Shutdown()
		log.Printf("mDNS service %s registered on port %d", *mdns, *port)
	}

	if err := hub.Serve(fmt.Sprintf(":%d", *port), st); err != nil {
		log.Fatal(err)
	}
}
