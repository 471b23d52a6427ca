package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"soundfield/internal/wsproto"
)

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:8000/room", "soundfield room websocket URL")
		all     = flag.Bool("all", false, "Print every update (default: only changes of 0.01 or more)")
		rawMode = flag.Bool("raw", false, "Print raw frames instead of decoded updates")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The server pings; answering keeps the read deadline fresh.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := make(map[int]wsproto.RoomUpdate)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				if *rawMode {
					fmt.Printf("[TEXT] %s\n", string(message))
					continue
				}
				handleTextMessage(message, last, *all)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints room updates, one line per soloist.
func handleTextMessage(message []byte, last map[int]wsproto.RoomUpdate, all bool) {
	env, v, err := wsproto.Decode(message)
	if err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}
	u, ok := v.(wsproto.RoomUpdate)
	if !ok {
		fmt.Printf("[%s] %s\n", env.Type, string(message))
		return
	}

	prev, seen := last[u.SoloistID]
	if !all && seen && !changed(prev, u) {
		return
	}
	last[u.SoloistID] = u

	fmt.Printf("[SOLOIST %d] x=%.2f y=%.2f distance=%.2f intensity=%s\n",
		u.SoloistID, u.Position.X, u.Position.Y, u.Distance, meter(u.Intensity))
}

func changed(a, b wsproto.RoomUpdate) bool {
	const eps = 0.01
	return math.Abs(a.Position.X-b.Position.X) >= eps ||
		math.Abs(a.Position.Y-b.Position.Y) >= eps ||
		math.Abs(a.Distance-b.Distance) >= eps ||
		math.Abs(a.Intensity-b.Intensity) >= eps
}

// meter renders intensity as a 10-step bar.
func meter(intensity float64) string {
	n := int(math.Round(intensity * 10))
	if n < 0 {
		n = 0
	}
	if n > 10 {
		n = 10
	}
	bar := make([]byte, 10)
	for i := range bar {
		if i < n {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return fmt.Sprintf("%s %.2f", bar, intensity)
}
