package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/client"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

var (
	addr     = flag.String("addr", "localhost:8000", "relay address")
	username = flag.String("username", fmt.Sprintf("User-%d", rand.IntN(201)), "username shown to the room")
	room     = flag.String("room", "R-01", "room to join")
)

func main() {
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chatrelay-client] ", log.LstdFlags)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	logger.Printf("connecting to %s", u.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, u.String(), client.Options{Logger: logger})
	cancel()
	if err != nil {
		logger.Fatal(err)
	}
	defer c.Close()

	if err := c.Subscribe(*username, *room); err != nil {
		logger.Fatal("subscribe:", err)
	}

	go printEvents(c)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	fmt.Printf("joined %s as %s. /typing, /stop and /quit are commands, anything else is sent.\n", *room, *username)
	for {
		select {
		case <-interrupt:
			logger.Println("interrupt received, closing connection...")
			return
		case <-c.Done():
			logger.Println("connection closed by relay")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(c, logger, line) {
				return
			}
		}
	}
}

func handleLine(c *client.Client, logger *log.Logger, line string) bool {
	var err error
	switch strings.TrimSpace(line) {
	case "":
		return true
	case "/quit":
		return false
	case "/typing":
		err = c.StartTyping()
	case "/stop":
		err = c.StopTyping()
	default:
		err = c.Send(line)
	}

	if err != nil {
		logger.Println(err)
	}
	return true
}

func readLines(lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func printEvents(c *client.Client) {
	events, typing, errs := c.Events(), c.Typing(), c.Errors()
	for events != nil || typing != nil || errs != nil {
		select {
		case msg, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			printChat(msg)
		case u, ok := <-typing:
			if !ok {
				typing = nil
				continue
			}
			if u.Typing {
				fmt.Printf("  %s is typing...\n", u.Username)
			}
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Printf("! %s (%d)\n", e.Error, e.Code)
		}
	}
}

func printChat(msg types.ChatMessage) {
	switch msg.MessageType {
	case types.UserJoin, types.UserLeave:
		fmt.Printf("* %s\n", msg.MessageContent)
	default:
		fmt.Printf("[%s] %s\n", msg.Username, msg.MessageContent)
	}
}
