package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/vehicast/relay/pkg/client"
)

// chatprobe drives a relay endpoint from the terminal: one-shot turns
// with -message, or an interactive loop when no message is given.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	url := flag.String("url", "ws://localhost:8765/ws", "relay websocket endpoint")
	message := flag.String("message", "", "send one turn and exit; empty starts an interactive loop")
	keepalive := flag.Duration("keepalive", 30*time.Second, "ping interval, 0 disables keepalive")
	timeout := flag.Duration("timeout", 60*time.Second, "per-turn completion timeout")
	flag.Parse()

	c := client.New(client.Options{URL: *url})
	defer c.Disconnect()

	done := make(chan struct{}, 1)

	c.OnConnected(func(clientID string) {
		log.Printf("connected as %s", clientID)
	})
	c.OnDelta(func(delta, buffer string) {
		fmt.Print(delta)
	})
	c.OnComplete(func(string) {
		fmt.Println()
		done <- struct{}{}
	})
	c.OnError(func(message string) {
		log.Printf("relay error: %s", message)
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if err := c.Connect(); err != nil {
		log.Fatalf("failed to connect to %s: %v", *url, err)
	}

	if *keepalive > 0 {
		stop := c.StartPingInterval(*keepalive)
		defer stop()
	}

	if *message != "" {
		runTurn(c, *message, done, *timeout)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "exit" || text == "quit" {
			return
		}
		if text != "" {
			runTurn(c, text, done, *timeout)
		}
		fmt.Print("> ")
	}
}

func runTurn(c *client.Client, text string, done <-chan struct{}, timeout time.Duration) {
	if !c.SendTurn(text, nil) {
		log.Fatal("turn rejected, no connection open")
	}

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("timed out after %v waiting for completion", timeout)
	}
}
