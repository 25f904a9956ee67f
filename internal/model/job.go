package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Job ID prefix
const jobIDPrefix = "job-"

// FormatChoice captures the format/quality selection made before dispatch.
// For audio downloads Codec is "mp3" or "flac"; for video downloads Height
// bounds the resolution of the merged MP4.
type FormatChoice struct {
	Audio  bool
	Codec  string
	Height int
}

// DefaultAudioChoice is used for sources that need no conversation
// (Spotify links are always fetched as 320kbps MP3).
func DefaultAudioChoice() FormatChoice {
	return FormatChoice{Audio: true, Codec: "mp3"}
}

// String returns the yt-dlp facing format token ("mp3", "flac" or a height).
func (f FormatChoice) String() string {
	if f.Audio {
		return f.Codec
	}
	return strconv.Itoa(f.Height)
}

// DownloadJob is one user's in-flight retrieval. At most one exists per
// user at a time; the job and its working directory are destroyed on any
// terminal outcome.
type DownloadJob struct {
	ID        string
	UserID    int64
	ChatID    int64
	Source    Source
	Format    FormatChoice
	WorkDir   string
	StartedAt time.Time
}

// NewJobID generates a unique job ID using UUID v7 for time ordering,
// falling back to a timestamp if UUID generation fails.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(jobIDPrefix+"%d", time.Now().UnixNano())
	}
	return jobIDPrefix + id.String()
}
