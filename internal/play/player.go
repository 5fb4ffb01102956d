package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/soundrecorder/internal/library"
)

var lookPath = exec.LookPath

// preferred audio players, in order
var players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	// Name forces a specific player; empty picks the first one installed
	Name string
}

func New(name string) *Player {
	return &Player{Name: name}
}

// Play plays a committed library item and blocks until playback ends
func (p *Player) Play(item library.Item) error {
	if item.Pending {
		return fmt.Errorf("recording %s is still being saved", item.Ref)
	}
	if _, err := os.Stat(item.Path); err != nil {
		return fmt.Errorf("audio file not found: %s", item.Path)
	}

	cmd, player, err := p.command(item)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "title", item.Title, "player", player, "path", item.Path)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	return nil
}

func (p *Player) command(item library.Item) (*exec.Cmd, string, error) {
	player := p.Name
	if player == "" {
		var err error
		player, err = findAudioPlayer(item.MimeType)
		if err != nil {
			return nil, "", fmt.Errorf("no suitable audio player found: %w", err)
		}
	}

	switch player {
	case "vlc":
		return exec.Command("vlc", "--play-and-exit", item.Path), player, nil
	case "mpv":
		return exec.Command("mpv", "--no-video", item.Path), player, nil
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", item.Path), player, nil
	case "aplay":
		// aplay only understands WAV
		if item.MimeType != "audio/wav" {
			return nil, "", fmt.Errorf("aplay requires WAV, recording is %s", item.MimeType)
		}
		return exec.Command("aplay", item.Path), player, nil
	default:
		return nil, "", fmt.Errorf("unsupported player: %s", player)
	}
}

// findAudioPlayer returns the first installed player able to handle mimeType
func findAudioPlayer(mimeType string) (string, error) {
	for _, player := range players {
		if player == "aplay" && mimeType != "audio/wav" {
			continue
		}
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
