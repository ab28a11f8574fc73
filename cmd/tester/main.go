package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gookit/color"
)

// A small load client for the chat server: opens N telnet connections that
// all join the same channel, post a burst of messages and disconnect. The
// received byte counts give a rough view of broadcast fan-out and render
// traffic under load.
func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	clients := flag.Int("clients", 5, "concurrent connections")
	messages := flag.Int("messages", 20, "messages per connection")
	channel := flag.String("channel", "loadtest", "channel to join")
	interval := flag.Duration("interval", 50*time.Millisecond, "delay between messages")
	flag.Parse()

	var received atomic.Int64
	var failures atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := runClient(*addr, *channel, n, *messages, *interval, &received); err != nil {
				failures.Add(1)
				color.Red.Printf("client %d: %v\n", n, err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	color.Green.Printf("%d clients, %d messages each, done in %s\n", *clients, *messages, elapsed.Round(time.Millisecond))
	color.Cyan.Printf("received %d bytes of screen updates total\n", received.Load())
	if f := failures.Load(); f > 0 {
		color.Red.Printf("%d client(s) failed\n", f)
	}
}

func runClient(addr, channel string, n, messages int, interval time.Duration, received *atomic.Int64) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Drain everything the server renders; we only measure volume.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			k, err := conn.Read(buf)
			received.Add(int64(k))
			if err != nil {
				return
			}
		}
	}()

	send := func(line string) error {
		_, err := io.WriteString(conn, line+"\r\n")
		return err
	}

	// Give negotiation and the welcome screen a moment before joining.
	time.Sleep(200 * time.Millisecond)
	if err := send("/join " + channel); err != nil {
		return err
	}
	for i := 0; i < messages; i++ {
		if err := send(fmt.Sprintf("message %d from client %d", i, n)); err != nil {
			return err
		}
		time.Sleep(interval)
	}
	if err := send("/quit"); err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return nil
}
