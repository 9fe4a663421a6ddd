package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ChunkJob is a token-bounded slice of a filing section prepared for LLM
// analysis. Chunks from one section, ordered by ChunkIndex, union-cover the
// section's paragraphs with a configured overlap shared between neighbours.
type ChunkJob struct {
	JobID           string `json:"job_id"`
	AccessionNumber string `json:"accession_number"`
	SectionOrdinal  int    `json:"section_ordinal"`
	SectionTitle    string `json:"section_title"`
	ChunkIndex      int    `json:"chunk_index"`
	StartParagraph  int    `json:"start_paragraph"`
	EndParagraph    int    `json:"end_paragraph"`
	Content         string `json:"content"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// DedupKey derives deterministically from the chunk's identity plus a content
// fingerprint, so a re-plan with identical text is suppressed while a changed
// section generation re-enqueues.
func (j ChunkJob) DedupKey() string {
	sum := sha256.Sum256([]byte(j.Content))
	return fmt.Sprintf("%s:%d:%d:%s",
		j.AccessionNumber, j.SectionOrdinal, j.ChunkIndex, hex.EncodeToString(sum[:8]))
}

// Encode serialises the job for the queue.
func (j ChunkJob) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encoding chunk job: %w", err)
	}
	return data, nil
}

// DecodeChunkJob deserialises a chunk job payload.
func DecodeChunkJob(data []byte) (ChunkJob, error) {
	var j ChunkJob
	if err := json.Unmarshal(data, &j); err != nil {
		return ChunkJob{}, fmt.Errorf("decoding chunk job: %w", err)
	}
	return j, nil
}
