package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

const fileVersion = 1

type filePayload struct {
	Version int               `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Items   []json.RawMessage `json:"items"`
}

type signedFile struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

func (s *Store) payload() (*filePayload, error) {
	items := s.All()
	payload := &filePayload{
		Version: fileVersion,
		SavedAt: evidence.NormTime(time.Now()),
		Items:   make([]json.RawMessage, 0, len(items)),
	}
	for _, ev := range items {
		data, err := evidence.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", ev.ID(), err)
		}
		payload.Items = append(payload.Items, data)
	}
	return payload, nil
}

// writeFile writes atomically: a crash mid-write must never leave a
// truncated evidence file where a good one was.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".evidence-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Save writes the store to path as tagged JSON.
func (s *Store) Save(path string) error {
	payload, err := s.payload()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// SaveSigned writes the store with an HMAC over the payload, so the file
// can later prove it has not been edited since it was written.
func (s *Store) SaveSigned(path string, signer *Signer) error {
	payload, err := s.payload()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(signedFile{
		Payload:   raw,
		Signature: signer.Sign(raw),
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func loadPayload(raw []byte) (*Store, error) {
	var payload filePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	s := New()
	for _, item := range payload.Items {
		ev, err := evidence.Unmarshal(item)
		if err != nil {
			return nil, err
		}
		s.Add(ev)
	}
	return s, nil
}

// Load reads a store written by Save. Malformed records and unknown
// discriminators fail the whole load; a partially readable evidence file
// is worse than a failed one.
func Load(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPayload(raw)
}

// LoadSigned reads a store written by SaveSigned, verifying the HMAC
// before decoding anything.
func LoadSigned(path string, signer *Signer) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file signedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if err := signer.Verify(file.Payload, file.Signature); err != nil {
		return nil, err
	}
	return loadPayload(file.Payload)
}
