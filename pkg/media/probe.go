package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeInfo is the subset of ffprobe output the pipeline uses.
type ProbeInfo struct {
	Duration float64
	FPS      float64
	Width    int
	Height   int
	HasAudio bool
	HasVideo bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads container and stream metadata of path.
func (e *Extractor) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	out, err := e.runner.Run(ctx, e.tools.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height,avg_frame_rate,r_frame_rate,duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return ProbeInfo{}, err
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (ProbeInfo, error) {
	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info ProbeInfo
	var streamDuration float64
	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseRate(s.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = parseRate(s.RFrameRate)
			}
			streamDuration, _ = strconv.ParseFloat(s.Duration, 64)
		case "audio":
			info.HasAudio = true
		}
	}

	if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
		info.Duration = d
	} else {
		info.Duration = streamDuration
	}

	if !info.HasVideo {
		return info, fmt.Errorf("no video stream found")
	}
	return info, nil
}

// parseRate parses "30000/1001" or "25" into frames per second.
func parseRate(s string) float64 {
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
