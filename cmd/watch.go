package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/soundrecorder/internal/clients"
	"github.com/audiolibrelab/soundrecorder/internal/server"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status, amplitude and elapsed events from the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		showAmplitude, _ := cmd.Flags().GetBool("amplitude")

		u, err := url.Parse(apiURL("/ws"))
		if err != nil {
			return fmt.Errorf("invalid daemon address: %w", err)
		}
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)

		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", u, err)
		}
		defer conn.Close()

		if err := conn.WriteJSON(server.ControlMessage{Type: "register"}); err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		defer signal.Stop(interrupt)

		go func() {
			<-interrupt
			conn.WriteJSON(server.ControlMessage{Type: "unregister"})
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return nil
				}
				slog.Debug("Watch connection ended", "error", err)
				return nil
			}
			printWatchMessage(data, showAmplitude)
		}
	},
}

func printWatchMessage(data []byte, showAmplitude bool) {
	var reply server.ControlReply
	if json.Unmarshal(data, &reply) == nil && reply.Type != "" {
		switch reply.Type {
		case "registered":
			slog.Info("Watching daemon events", "token", reply.Token)
		case "error":
			slog.Warn("Daemon rejected request", "error", reply.Error)
		}
		return
	}

	var ev clients.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		slog.Warn("Ignoring malformed event", "error", err)
		return
	}

	switch ev.Kind {
	case clients.KindStatus:
		fmt.Printf("status   %s\n", ev.Status)
	case clients.KindElapsed:
		if ev.Elapsed != nil {
			fmt.Printf("elapsed  %s\n", formatElapsed(*ev.Elapsed))
		}
	case clients.KindAmplitude:
		if showAmplitude && ev.Amplitude != nil {
			fmt.Printf("level    %s\n", levelBar(*ev.Amplitude))
		}
	}
}

// levelBar draws a peak amplitude in the 0..32767 range as a 40 column bar
func levelBar(amplitude int) string {
	const width = 40
	n := amplitude * width / 32767
	if n < 0 {
		n = 0
	}
	if n > width {
		n = width
	}
	return fmt.Sprintf("%-*s %5d", width, strings.Repeat("#", n), amplitude)
}

func init() {
	watchCmd.Flags().BoolP("amplitude", "a", false, "also print amplitude levels")
}
