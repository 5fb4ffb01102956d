package play

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/audiolibrelab/soundrecorder/internal/library"
)

func withPlayers(t *testing.T, installed ...string) {
	t.Helper()
	orig := lookPath
	lookPath = func(name string) (string, error) {
		for _, p := range installed {
			if p == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
	t.Cleanup(func() { lookPath = orig })
}

func TestFindAudioPlayer_Preference(t *testing.T) {
	withPlayers(t, "ffplay", "mpv")

	player, err := findAudioPlayer("audio/ogg")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if player != "mpv" {
		t.Errorf("Expected mpv, got %s", player)
	}
}

func TestFindAudioPlayer_AplayOnlyForWAV(t *testing.T) {
	withPlayers(t, "aplay")

	if _, err := findAudioPlayer("audio/ogg"); err == nil {
		t.Error("Expected no player for ogg with only aplay installed")
	}
	player, err := findAudioPlayer("audio/wav")
	if err != nil || player != "aplay" {
		t.Errorf("Expected aplay for wav, got %q, %v", player, err)
	}
}

func TestCommand_Args(t *testing.T) {
	item := library.Item{Ref: "r", Path: "/music/take.ogg", MimeType: "audio/ogg"}

	cmd, player, err := New("ffplay").command(item)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if player != "ffplay" {
		t.Errorf("Expected ffplay, got %s", player)
	}
	want := []string{"ffplay", "-nodisp", "-autoexit", "/music/take.ogg"}
	if len(cmd.Args) != len(want) {
		t.Fatalf("Args = %v, want %v", cmd.Args, want)
	}
	for i := range want {
		if cmd.Args[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, cmd.Args[i], want[i])
		}
	}

	if _, _, err := New("aplay").command(item); err == nil {
		t.Error("Expected aplay to reject ogg")
	}
	if _, _, err := New("winamp").command(item); err == nil {
		t.Error("Expected unsupported player error")
	}
}

func TestPlay_RejectsPendingAndMissing(t *testing.T) {
	p := New("mpv")

	if err := p.Play(library.Item{Ref: "r", Pending: true}); err == nil {
		t.Error("Expected error for pending item")
	}

	missing := filepath.Join(t.TempDir(), "gone.ogg")
	if err := p.Play(library.Item{Ref: "r", Path: missing}); err == nil {
		t.Error("Expected error for missing file")
	}

	existing := filepath.Join(t.TempDir(), "take.ogg")
	os.WriteFile(existing, []byte("x"), 0644)
	if err := New("winamp").Play(library.Item{Ref: "r", Path: existing}); err == nil {
		t.Error("Expected unsupported player error")
	}
}
