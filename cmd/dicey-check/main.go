// Command dicey-check probes a dicey server: the health endpoint, and, when a
// room is given, its snapshot feed for a short window.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/dicey-decisions/internal/apiclient"
	"github.com/park285/dicey-decisions/internal/domain"
	"github.com/park285/dicey-decisions/internal/realtime"
	"github.com/park285/dicey-decisions/pkg/decisiondto"
)

func main() {
	baseURL := os.Getenv("DICEY_API_URL")
	wsURL := os.Getenv("DICEY_WS_URL")
	userID := os.Getenv("DICEY_USER_ID")
	roomID := os.Getenv("DICEY_ROOM_ID")

	if baseURL == "" {
		log.Fatal("DICEY_API_URL is required")
	}

	client := apiclient.NewClient(baseURL, userID, apiclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := client.Health(ctx)
	if err != nil {
		log.Printf("/health error: %v", err)
	} else {
		log.Printf("/health ok: status=%s redis=%s", h.Status, h.Redis)
	}

	if wsURL == "" || roomID == "" || userID == "" {
		log.Println("DICEY_WS_URL, DICEY_ROOM_ID or DICEY_USER_ID not set; skipping feed check")
		return
	}

	rt := realtime.NewClient(wsURL,
		realtime.WithHeaderProvider(func() map[string]string {
			return map[string]string{decisiondto.HeaderUserID: userID}
		}),
		realtime.WithReconnect(2, time.Second),
	)
	rt.OnStateChange(func(room string, state realtime.State) {
		log.Printf("feed room=%s state=%s", room, state)
	})

	wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer wcancel()
	w, err := rt.Watch(wctx, roomID, func(s domain.RoomSnapshot) {
		fmt.Printf("snapshot rev=%d title=%q participants=%d options=%d votes=%d\n",
			s.Rev, s.Room.Title, len(s.Participants), len(s.Options), len(s.Votes))
	})
	if err != nil {
		log.Printf("feed connect error: %v", err)
		return
	}

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	select {
	case <-t.C:
	case <-w.Done():
	}
	rt.Close()
}
