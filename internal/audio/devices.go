package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ListDevices returns the capture devices known to the backend
func (b *Backend) ListDevices() ([]string, error) {
	var cmd *exec.Cmd
	switch b.Type {
	case BackendTypeALSA:
		cmd = exec.Command("arecord", "-L")
	default:
		cmd = exec.Command("pactl", "list", "short", "sources")
	}

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s devices: %w", b.Type, err)
	}

	if b.Type == BackendTypeALSA {
		return parseArecordList(string(output)), nil
	}
	return parsePactlSources(string(output)), nil
}

// DeviceExists reports whether device is listed by the backend. "default"
// and the empty name always resolve.
func (b *Backend) DeviceExists(device string) bool {
	if device == "" || device == "default" {
		return true
	}

	devices, err := b.ListDevices()
	if err != nil {
		slog.Debug("Failed to check device existence", "device", device, "error", err)
		return false
	}
	for _, d := range devices {
		if d == device {
			return true
		}
	}
	return false
}

// parsePactlSources extracts source names from `pactl list short sources`.
// Monitor sources are playback loopbacks and are skipped.
func parsePactlSources(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]
		if strings.HasSuffix(name, ".monitor") {
			continue
		}
		devices = append(devices, name)
	}
	return devices
}

// parseArecordList extracts PCM names from `arecord -L`; descriptions are
// the indented lines
func parseArecordList(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		name := strings.TrimSpace(line)
		if name == "null" {
			continue
		}
		devices = append(devices, name)
	}
	return devices
}
