// Package domain holds the core types for the filing intelligence pipeline.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// FilingStatus tracks a filing through the pipeline.
type FilingStatus string

// Filing lifecycle states. Failed is terminal.
const (
	FilingStatusPending    FilingStatus = "pending"
	FilingStatusDownloaded FilingStatus = "downloaded"
	FilingStatusParsed     FilingStatus = "parsed"
	FilingStatusFailed     FilingStatus = "failed"
)

// BlobKind identifies the artifact stored for a filing.
type BlobKind string

// Artifact kinds persisted to object storage.
const (
	BlobKindRaw   BlobKind = "raw"
	BlobKindIndex BlobKind = "index"
)

// Company is an SEC registrant identified by its CIK.
type Company struct {
	ID     int64
	CIK    string
	Name   string
	Ticker string
}

// Filing is one discoverable document, unique by accession number.
type Filing struct {
	ID              int64
	CompanyID       int64
	CIK             string
	AccessionNumber string
	FormType        string
	FiledAt         time.Time
	SourceURLs      []string
	Status          FilingStatus
	DownloadedAt    time.Time
}

// FilingBlob records where a downloaded artifact lives in object storage.
type FilingBlob struct {
	FilingID    int64
	Kind        BlobKind
	Location    string
	Checksum    string
	ContentType string
}

// Section is an ordinal-numbered span of normalised text extracted from a
// filing. Reparsing creates a new generation; old sections are superseded,
// never mutated in place.
type Section struct {
	ID         int64
	FilingID   int64
	Ordinal    int
	Title      string
	Content    string
	Generation int
}

// FeedEntry is one candidate item returned by an EDGAR feed.
type FeedEntry struct {
	AccessionNumber string
	CIK             string
	FormType        string
	FilingHref      string
	FiledAt         time.Time
	Title           string
	Summary         string
}

// DownloadTask is the payload placed on the download queue by the poller.
type DownloadTask struct {
	AccessionNumber string    `json:"accession_number"`
	CIK             string    `json:"cik"`
	FormType        string    `json:"form_type"`
	FilingHref      string    `json:"filing_href"`
	FiledAt         time.Time `json:"filed_at"`
}

// DedupKey for download tasks is the accession number alone: an item is
// processed at most once per identifier.
func (t DownloadTask) DedupKey() string {
	return t.AccessionNumber
}

// Encode serialises the task for the queue.
func (t DownloadTask) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding download task: %w", err)
	}
	return data, nil
}

// DecodeDownloadTask deserialises a download task payload.
func DecodeDownloadTask(data []byte) (DownloadTask, error) {
	var t DownloadTask
	if err := json.Unmarshal(data, &t); err != nil {
		return DownloadTask{}, fmt.Errorf("decoding download task: %w", err)
	}
	return t, nil
}

// ParseTask asks the parse stage to sectionize a downloaded filing.
type ParseTask struct {
	AccessionNumber string `json:"accession_number"`
}

// DedupKey for parse tasks follows the download-task rule.
func (t ParseTask) DedupKey() string {
	return t.AccessionNumber
}

// Encode serialises the task for the queue.
func (t ParseTask) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding parse task: %w", err)
	}
	return data, nil
}

// DecodeParseTask deserialises a parse task payload.
func DecodeParseTask(data []byte) (ParseTask, error) {
	var t ParseTask
	if err := json.Unmarshal(data, &t); err != nil {
		return ParseTask{}, fmt.Errorf("decoding parse task: %w", err)
	}
	return t, nil
}
