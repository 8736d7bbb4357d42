package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/thanhpk/randstr"

	fileutil "imagevariants/internal/file"
	"imagevariants/internal/task"
)

// ErrNoContent is returned when none of the tasks succeeded.
var ErrNoContent = errors.New("nothing to export: no successful results")

const (
	maxBaseNameLen      = 50
	placeholderBaseName = "variation"
	suffixLen           = 6
	maxSuffixAttempts   = 8
	alphanumeric        = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Entry is one file inside the archive.
type Entry struct {
	Index    int
	FileName string
	Content  []byte
}

// NameGenerator yields the random disambiguator appended to every file name.
type NameGenerator interface {
	Suffix() string
}

type randomNames struct{}

// RandomNames draws suffixes from a cryptographically secure source.
func RandomNames() NameGenerator { return randomNames{} }

func (randomNames) Suffix() string { return randstr.String(suffixLen, alphanumeric) }

type seededNames struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// SeededNames returns a deterministic generator, mainly for tests.
func SeededNames(seed int64) NameGenerator {
	return &seededNames{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // names, not secrets
}

func (s *seededNames) Suffix() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, suffixLen)
	for i := range b {
		b[i] = alphanumeric[s.rng.Intn(len(alphanumeric))]
	}
	return string(b)
}

// Entries selects the succeeded tasks and turns each into an archive entry
// with a file name that is unique within the returned set.
func Entries(tasks []task.Task, names NameGenerator) ([]Entry, error) {
	if names == nil {
		names = RandomNames()
	}
	used := make(map[string]struct{}, len(tasks))
	entries := make([]Entry, 0, len(tasks))
	for _, t := range tasks {
		if t.State != task.StateSucceeded {
			continue
		}
		content, err := DecodeImage(t.Image)
		if err != nil {
			return nil, fmt.Errorf("decode image for task %d: %w", t.Index, err)
		}
		name := uniqueName(baseName(t.Prompt), names, used)
		used[name] = struct{}{}
		entries = append(entries, Entry{Index: t.Index, FileName: name, Content: content})
	}
	if len(entries) == 0 {
		return nil, ErrNoContent
	}
	return entries, nil
}

// Build packages the succeeded tasks into a zip archive held in memory.
func Build(tasks []task.Task, names NameGenerator) ([]byte, error) {
	entries, err := Entries(tasks, names)
	if err != nil {
		return nil, err
	}
	return pack(entries)
}

// WriteFile builds the archive and atomically writes it to destZipPath.
// It returns the entries that were written.
func WriteFile(destZipPath string, tasks []task.Task, names NameGenerator) ([]Entry, error) {
	entries, err := Entries(tasks, names)
	if err != nil {
		return nil, err
	}
	data, err := pack(entries)
	if err != nil {
		return nil, err
	}
	if err := fileutil.CopyAtomic(destZipPath, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write archive: %w", err)
	}
	return entries, nil
}

func pack(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zipWriter := zip.NewWriter(buf)
	modified := time.Now()
	for _, e := range entries {
		// PNG data is already compressed
		w, err := zipWriter.CreateHeader(&zip.FileHeader{Name: e.FileName, Method: zip.Store, Modified: modified})
		if err != nil {
			log.Warn().Str("file", e.FileName).Err(err).Msg("zip entry create failed")
			return nil, fmt.Errorf("create zip entry: %w", err)
		}
		if _, err := w.Write(e.Content); err != nil {
			return nil, fmt.Errorf("write zip entry: %w", err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Msg("closing zip writer failed")
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// baseName keeps the ASCII letters and digits of the prompt, up to 50 of them.
func baseName(prompt string) string {
	var b strings.Builder
	for _, r := range prompt {
		if b.Len() == maxBaseNameLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return placeholderBaseName
	}
	return b.String()
}

func uniqueName(base string, names NameGenerator, used map[string]struct{}) string {
	suffix := names.Suffix()
	name := base + "_" + suffix + ".png"
	for attempt := 1; attempt < maxSuffixAttempts; attempt++ {
		if _, taken := used[name]; !taken {
			return name
		}
		suffix = names.Suffix()
		name = base + "_" + suffix + ".png"
	}
	for n := 2; ; n++ {
		if _, taken := used[name]; !taken {
			return name
		}
		name = fmt.Sprintf("%s_%s(%d).png", base, suffix, n)
	}
}

// DecodeImage accepts plain base64 or a data URL.
func DecodeImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if i := strings.Index(encoded, ","); i >= 0 {
			encoded = encoded[i+1:]
		}
	}
	if encoded == "" {
		return nil, errors.New("empty image data")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	return data, nil
}
