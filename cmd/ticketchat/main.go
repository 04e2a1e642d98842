package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ezelpc/AURONTEK-sub000/internal/auth"
	"github.com/ezelpc/AURONTEK-sub000/internal/config"
	"github.com/ezelpc/AURONTEK-sub000/internal/notify"
	"github.com/ezelpc/AURONTEK-sub000/internal/rest"
	"github.com/ezelpc/AURONTEK-sub000/internal/rooms"
	"github.com/ezelpc/AURONTEK-sub000/internal/transport"
	"github.com/ezelpc/AURONTEK-sub000/internal/types"
)

var (
	transportURL string
	apiBaseURL   string
	token        string
	roomKey      string
)

func main() {
	flag.StringVar(&transportURL, "transport-url", "ws://localhost:3003/ws", "websocket endpoint")
	flag.StringVar(&apiBaseURL, "api-url", "http://localhost:3000/api", "REST base URL")
	flag.StringVar(&token, "token", os.Getenv("AURONTEK_TOKEN"), "bearer token")
	flag.StringVar(&roomKey, "room", "", "ticket room to join")
	flag.Parse()

	logger := log.New(os.Stderr, "[ticketchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(transportURL, apiBaseURL)
	if err != nil {
		logger.Fatal("config:", err)
	}

	if token == "" {
		logger.Fatal("a bearer token is required (-token or AURONTEK_TOKEN)")
	}

	self, err := auth.IdentityFromToken(token)
	if err != nil {
		logger.Fatal("token:", err)
	}

	tokens := auth.NewStaticTokenSource(token)
	restClient := rest.NewClient(cfg.APIBaseURL, tokens, logger)

	conn := transport.NewConnectionManager(cfg, tokens, logger)
	roomMgr := rooms.NewManager(conn, restClient, cfg, self, logger)
	defer roomMgr.Close()

	hub := notify.NewHub(restClient, conn, cfg, logger)
	hub.Start()
	defer hub.Close()

	// join (or re-join) the requested room whenever the transport
	// comes up; memberships do not survive a reconnect
	connectSub := conn.Subscribe(transport.EventConnect, func(json.RawMessage) {
		logger.Println("connected as", self.DisplayName)
		if roomKey != "" {
			roomMgr.Join(roomKey)
		}
	})
	defer connectSub.Unsubscribe()

	msgSub := conn.Subscribe(transport.EventNewMessage, func(data json.RawMessage) {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		fmt.Printf("[%s] %s: %s\n", msg.RoomKey, msg.Sender.DisplayName, msg.Body)
	})
	defer msgSub.Unsubscribe()

	go func() {
		for adv := range hub.Advisories() {
			fmt.Printf("(%s) %s\n", adv.Severity, adv.Message)
		}
	}()

	conn.Start()
	defer conn.Close()

	go readInput(roomMgr, logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	logger.Printf("received signal: %s\n", sig)
	logger.Println("shutdown complete")
}

func readInput(roomMgr *rooms.Manager, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		roomMgr.TypingInput(roomKey)
		if err := roomMgr.Send(roomKey, line, types.KindText); err != nil {
			logger.Println("send:", err)
		}
	}
}
