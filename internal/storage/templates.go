package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/mkhumalo/drivelock/internal/models"
	"github.com/mkhumalo/drivelock/internal/vaultcrypto"
)

const templatesFile = "face_templates.encrypted"

// PoseCount is the number of distinct-pose samples that make a
// complete enrollment batch.
const PoseCount = 5

// EmbeddingSize is the required dimensionality of a face feature
// vector.
const EmbeddingSize = 128

var (
	// ErrIncompleteSample is returned for a malformed feature vector.
	ErrIncompleteSample = errors.New("storage: incomplete sample")
	// ErrDuplicatePose is returned when a pose slot is already filled
	// within an enrollment batch.
	ErrDuplicatePose = errors.New("storage: duplicate pose")
	// ErrIncompleteBatch is returned when a commit carries fewer than
	// PoseCount distinct-pose samples.
	ErrIncompleteBatch = errors.New("storage: incomplete enrollment batch")
)

// TemplateStore owns the per-driver face template collections,
// persisted as a single encrypted CBOR blob. Every successful write
// re-serializes the full file through an atomic replace, so readers
// never observe a half-written state.
type TemplateStore struct {
	mu     sync.Mutex
	cipher *vaultcrypto.Cipher
	path   string
}

// NewTemplateStore creates a template store persisting under dir.
func NewTemplateStore(dir string, cipher *vaultcrypto.Cipher) (*TemplateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &TemplateStore{cipher: cipher, path: dir + string(os.PathSeparator) + templatesFile}, nil
}

// templatesBlob is the on-disk shape of the template set.
type templatesBlob struct {
	Templates []models.FaceTemplate `cbor:"templates"`
}

// ValidateVector checks the dimensionality of a feature vector.
func ValidateVector(vec []float64) error {
	if len(vec) != EmbeddingSize {
		return fmt.Errorf("%w: vector has %d dimensions, want %d", ErrIncompleteSample, len(vec), EmbeddingSize)
	}
	return nil
}

// ReplaceBatch commits a complete enrollment batch for a driver,
// replacing any previously stored templates for that driver. The batch
// must hold exactly PoseCount samples with distinct pose indices and
// well-formed vectors; nothing is persisted otherwise.
func (s *TemplateStore) ReplaceBatch(driverID string, batch []models.FaceTemplate) error {
	if len(batch) != PoseCount {
		return fmt.Errorf("%w: got %d of %d samples", ErrIncompleteBatch, len(batch), PoseCount)
	}
	seen := make(map[int]bool, PoseCount)
	for _, t := range batch {
		if t.DriverID != driverID {
			return fmt.Errorf("%w: sample for %q in batch for %q", ErrIncompleteSample, t.DriverID, driverID)
		}
		if t.PoseIndex < 0 || t.PoseIndex >= PoseCount {
			return fmt.Errorf("%w: pose index %d out of range", ErrIncompleteSample, t.PoseIndex)
		}
		if seen[t.PoseIndex] {
			return fmt.Errorf("%w: pose %d", ErrDuplicatePose, t.PoseIndex)
		}
		seen[t.PoseIndex] = true
		if err := ValidateVector(t.Vector); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadFile()
	if err != nil {
		return err
	}
	kept := blob.Templates[:0]
	for _, t := range blob.Templates {
		if t.DriverID != driverID {
			kept = append(kept, t)
		}
	}
	blob.Templates = append(kept, batch...)
	return s.saveLocked(blob)
}

// Remove drops every template for the driver.
func (s *TemplateStore) Remove(driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadFile()
	if err != nil {
		return err
	}
	kept := blob.Templates[:0]
	for _, t := range blob.Templates {
		if t.DriverID != driverID {
			kept = append(kept, t)
		}
	}
	blob.Templates = kept
	return s.saveLocked(blob)
}

// All returns the stored templates grouped by driver, ordered by pose
// within each driver. A missing file is an empty, valid set.
func (s *TemplateStore) All() (map[string][]models.FaceTemplate, error) {
	blob, err := s.loadFile()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.FaceTemplate)
	for _, t := range blob.Templates {
		out[t.DriverID] = append(out[t.DriverID], t)
	}
	return out, nil
}

func (s *TemplateStore) loadFile() (templatesBlob, error) {
	var blob templatesBlob
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return blob, nil
	}
	if err != nil {
		return blob, fmt.Errorf("read templates: %w", err)
	}
	plaintext, err := s.cipher.Open(string(raw))
	if err != nil {
		return blob, fmt.Errorf("open templates: %w", err)
	}
	if err := cbor.Unmarshal(plaintext, &blob); err != nil {
		return blob, fmt.Errorf("%w: decode templates: %v", vaultcrypto.ErrIntegrityViolation, err)
	}
	return blob, nil
}

func (s *TemplateStore) saveLocked(blob templatesBlob) error {
	plaintext, err := cbor.Marshal(blob)
	if err != nil {
		return fmt.Errorf("encode templates: %w", err)
	}
	sealed, err := s.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal templates: %w", err)
	}
	return writeFileAtomic(s.path, []byte(sealed))
}
