// Package model defines the shared value types of fieldtrail: the research
// session, its navigation trail, captured items, and video frames.
package model

import "time"

// EntryKind discriminates trail entries.
type EntryKind string

const (
	KindPage   EntryKind = "page"
	KindPause  EntryKind = "pause"
	KindResume EntryKind = "resume"
)

// CaptureType discriminates captured items.
type CaptureType string

const (
	CaptureText  CaptureType = "text"
	CaptureURL   CaptureType = "url"
	CaptureVideo CaptureType = "video"
)

// Session is the researcher's current activity. At most one exists at a time.
type Session struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Paused bool   `json:"paused"`
}

// TrailEntry is one step in the navigation trail: a page visit or a
// pause/resume marker. Page entries carry FromURL, the previous URL seen in
// the same viewport, so the trail can be replayed as a directed graph.
type TrailEntry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	IconRef   string    `json:"icon_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	FromURL   string    `json:"from_url,omitempty"`
}

// Frame is a single representative video frame. Immutable once produced;
// owned by the CaptureItem it is attached to.
type Frame struct {
	Time     float64 `json:"time"`     // seconds into the video
	Timecode string  `json:"timecode"` // human-readable position
	Image    []byte  `json:"image"`    // 320x180 PNG
	Hash     []int   `json:"hash"`     // 16-cell perceptual fingerprint
}

// CaptureItem is a user-initiated snippet queued for later filing into the
// research database. Only Saved/SavedRecordID mutate after creation.
type CaptureItem struct {
	ID            string      `json:"id"`
	Type          CaptureType `json:"type"`
	Text          string      `json:"text,omitempty"`
	URL           string      `json:"url,omitempty"`
	PageTitle     string      `json:"page_title,omitempty"`
	IconRef       string      `json:"icon_ref,omitempty"`
	TimecodeStart string      `json:"timecode_start,omitempty"`
	TimecodeEnd   string      `json:"timecode_end,omitempty"`
	Frames        []Frame     `json:"frames,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
	Saved         bool        `json:"saved"`
	SavedRecordID int64       `json:"saved_record_id,omitempty"`
}

// User is an authenticated researcher.
type User struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SessionRecord is the assembled result of an ended session, handed to the
// remote research database.
type SessionRecord struct {
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Trail     []TrailEntry  `json:"trail"`
	Items     []CaptureItem `json:"items"`
}

// PageVisit is a page-load-completed event from a tracked viewport.
type PageVisit struct {
	ViewportID string `json:"viewport_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	IconRef    string `json:"icon_ref"`
}
