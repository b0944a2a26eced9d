// Command demo runs a hub and two clients in one process. The clients edit the
// same card concurrently and the program prints the text they converge on.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/asadovsky/cards/client"
	"github.com/asadovsky/cards/server/common"
	"github.com/asadovsky/cards/server/hub"
	"github.com/asadovsky/cards/server/ot"
	"github.com/asadovsky/cards/server/store"
)

var (
	port  = flag.Int("port", 0, "")
	edits = flag.Int("edits", 10, "edits per client")
)

func main() {
	flag.Parse()
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", *port))
	if err != nil {
		log.Fatal(err)
	}
	go http.Serve(ln, hub.NewHandler(store.NewMemory()))
	url := fmt.Sprintf("ws://%s/ws", ln.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c1, c2 := connect(ctx, url), connect(ctx, url)

	ids := make(chan string, 1)
	c1.Create(map[string]string{"text": "hello"}, func(id string) { ids <- id })
	id := <-ids
	s1, s2 := subscribe(c1, id), subscribe(c2, id)

	done := make(chan struct{})
	for i, sub := range []*client.Subscription{s1, s2} {
		i, sub := i, sub
		go func() {
			for j := 0; j < *edits; j++ {
				mark := fmt.Sprintf("[%d.%d]", i+1, j)
				err := sub.Inspect(ctx, func(card *client.Card) {
					text := card.Prop("text")
					// Client 1 writes at the front, client 2 at the back.
					ops := ot.Ops{ot.Retain(len(text)), ot.Insert(mark)}
					if i == 0 {
						ops = ot.Ops{ot.Insert(mark), ot.Retain(len(text))}
					}
					if err := card.Revise(common.Change{Prop: "text", Ops: ops}); err != nil {
						log.Print(err)
					}
				})
				if err != nil {
					log.Fatal(err)
				}
			}
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	for {
		t1, p1 := state(ctx, s1)
		t2, p2 := state(ctx, s2)
		if !p1 && !p2 && t1 == t2 {
			fmt.Println(t1)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func connect(ctx context.Context, url string) *client.Client {
	conn, err := client.Dial(ctx, url)
	if err != nil {
		log.Fatal(err)
	}
	c := client.New(conn)
	go c.Run(ctx)
	go func() {
		if err := conn.Pump(c); err != nil {
			log.Print(err)
		}
	}()
	return c
}

func subscribe(c *client.Client, id string) *client.Subscription {
	sub := c.Subscribe(id)
	ready := make(chan struct{}, 1)
	if _, err := sub.Bind("text", func(string) {
		select {
		case ready <- struct{}{}:
		default:
		}
	}, nil); err != nil {
		log.Fatal(err)
	}
	<-ready
	return sub
}

func state(ctx context.Context, sub *client.Subscription) (text string, pending bool) {
	if err := sub.Inspect(ctx, func(card *client.Card) {
		text, pending = card.Prop("text"), card.Pending()
	}); err != nil {
		log.Fatal(err)
	}
	return
}
