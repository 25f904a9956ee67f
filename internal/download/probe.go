package download

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const probeTimeout = 45 * time.Second

// Probe answers quick metadata questions by invoking the tools without
// producing any files.
type Probe struct {
	timeout   time.Duration
	runOutput outputRunner
}

func NewProbe() *Probe {
	return &Probe{timeout: probeTimeout, runOutput: commandOutput}
}

// Resolutions lists the playable video heights for a watch URL, lowest
// first. An empty slice with nil error means no usable video stream was
// reported.
func (p *Probe) Resolutions(ctx context.Context, url string) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"-j", "--no-playlist", "--no-warnings", "--user-agent", uaDesktop, url}
	out, err := p.runOutput(ctx, YtdlpCommand, args)
	if err != nil {
		return nil, fmt.Errorf("probe formats: %w", err)
	}

	// One JSON document per video; only the first matters here.
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	var info struct {
		Formats []struct {
			VCodec string `json:"vcodec"`
			Ext    string `json:"ext"`
			Height int    `json:"height"`
		} `json:"formats"`
	}
	if err := json.Unmarshal([]byte(line), &info); err != nil {
		return nil, fmt.Errorf("probe formats: %w", err)
	}

	seen := make(map[int]bool)
	var heights []int
	add := func(mp4Only bool) {
		for _, f := range info.Formats {
			if f.VCodec == "" || f.VCodec == "none" || f.Height == 0 {
				continue
			}
			if mp4Only && f.Ext != "mp4" {
				continue
			}
			if !seen[f.Height] {
				seen[f.Height] = true
				heights = append(heights, f.Height)
			}
		}
	}
	add(true)
	if len(heights) == 0 {
		add(false)
	}
	sort.Ints(heights)
	return heights, nil
}

// Title fetches the display title of a video or playlist URL.
func (p *Probe) Title(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{"--dump-single-json", "--flat-playlist", "--no-warnings", "--user-agent", uaDesktop, url}
	out, err := p.runOutput(ctx, YtdlpCommand, args)
	if err != nil {
		return "", fmt.Errorf("probe title: %w", err)
	}

	var info struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return "", fmt.Errorf("probe title: %w", err)
	}
	return strings.TrimSpace(info.Title), nil
}

// TrackTerm resolves a track URL to an "Artist - Title" search term by
// listing it with the resolver. Returns "" when nothing usable came back.
func (p *Probe) TrackTerm(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runOutput(ctx, SpotdlCommand, []string{"list", url})
	if err != nil {
		return "", fmt.Errorf("probe track: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Found") {
			continue
		}
		if strings.Contains(line, " - ") {
			return line, nil
		}
	}
	return "", nil
}
