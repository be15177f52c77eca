// Package domain
package domain

import (
	"strings"
	"time"
)

// Label is the terminal category assigned to a domain.
type Label string

const (
	PureBodywear    Label = "Pure Bodywear"
	BodywearLeaning Label = "Bodywear Leaning"
	NeedsReview     Label = "Needs Review"
	Generalist      Label = "Generalist"
	LabelError      Label = "Error"
)

// JobStatus tracks a domain through the worker queue.
type JobStatus string

const (
	Pending    JobStatus = "pending"
	Processing JobStatus = "processing"
	Completed  JobStatus = "completed"
	Failed     JobStatus = "failed"
)

// Stage tags identifying which fetch path produced the working outcome. A
// "+vision" suffix is appended when the vision scorer contributed.
const (
	StageHTTP      = "http"
	StageBrowser   = "browser"
	StageFirecrawl = "firecrawl"
)

// DomainJob is one queued domain awaiting classification.
type DomainJob struct {
	ID     int64  `db:"id"`
	Domain string `db:"domain"`
}

// FetchOutcome is the raw product of a single fetch stage. Immutable once
// returned; partial outcomes (some text, a screenshot, an error message) are
// valid and the orchestrator decides what to do with them.
type FetchOutcome struct {
	Success     bool
	HTTPStatus  int
	FinalURL    string
	NavText     []string
	HeadingText []string
	LinkText    []string
	CTAText     []string
	ImageURLs   []string
	Screenshot  []byte
	Error       string
}

// HasText reports whether the outcome carries any extracted text at all.
func (o *FetchOutcome) HasText() bool {
	return len(o.NavText) > 0 || len(o.HeadingText) > 0
}

// Usable reports whether the outcome contributes anything to classification.
func (o *FetchOutcome) Usable() bool {
	return o.Success || len(o.Screenshot) > 0 || o.HasText()
}

// Features is the normalized per-domain input to scoring, derived from one
// FetchOutcome. Created fresh per classification call, never persisted.
type Features struct {
	Domain           string
	NavText          []string
	HeadingText      []string
	CTAText          []string
	LinkText         []string
	ImageURLs        []string
	Screenshot       []byte
	DetectedLanguage string
}

// TextSparse reports whether text extraction is too thin to trust a text-only
// verdict: fewer than 5 nav terms and fewer than 3 headings.
func (f *Features) TextSparse() bool {
	return len(f.NavText) < 5 && len(f.HeadingText) < 3
}

// TextScore is the lexical bodywear-vs-generalist signal.
type TextScore struct {
	Score            float64
	BodywearCount    int
	GeneralistCount  int
	BodywearTerms    []string
	GeneralistTerms  []string
	Language         string
	LanguagesMatched []string
}

// Classification is the terminal result handed back to the caller. Exactly one
// of {Label assigned, Error non-empty with Label == LabelError} holds.
type Classification struct {
	Domain       string    `json:"domain"`
	Label        Label     `json:"label"`
	Confidence   float64   `json:"confidence"`
	TextScore    *float64  `json:"text_score"`
	VisionScore  *float64  `json:"vision_score"`
	FinalScore   float64   `json:"final_score"`
	Reasons      string    `json:"reasons"`
	ImageCount   int       `json:"image_count"`
	StageUsed    string    `json:"stage_used"`
	NavCount     int       `json:"nav_count"`
	HeadingCount int       `json:"heading_count"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	FinalURL     string    `json:"final_url,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NormalizeDomain canonicalizes caller input. Invalid domains are not rejected
// here; they surface later as fetch failures.
func NormalizeDomain(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
