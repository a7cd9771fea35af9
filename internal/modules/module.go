package modules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Well-known optional units used by the built-in task handlers.
const (
	UnitPDFReader         = "pdf-reader"
	UnitSpreadsheetReader = "spreadsheet-reader"
	UnitZipArchiver       = "zip-archiver"
)

// ErrLoadFailure matches every error returned by Loader.Load.
var ErrLoadFailure = errors.New("module load failed")

// ErrInvalidUnit reports a unit name that cannot be resolved safely.
var ErrInvalidUnit = errors.New("invalid module unit name")

var unitPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Module is a resolved optional code unit.
type Module struct {
	Name     string
	Source   []byte
	Digest   string
	Size     int
	LoadedAt time.Time
}

func newModule(name string, source []byte, now time.Time) *Module {
	sum := sha256.Sum256(source)
	return &Module{
		Name:     name,
		Source:   source,
		Digest:   hex.EncodeToString(sum[:]),
		Size:     len(source),
		LoadedAt: now,
	}
}

// LoadError describes a failed acquisition of a single unit.
type LoadError struct {
	Unit  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %q: %v", e.Unit, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func (e *LoadError) Is(target error) bool { return target == ErrLoadFailure }

// NormalizeUnit lowercases and validates a unit name.
func NormalizeUnit(unit string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(unit))
	if !unitPattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
	return name, nil
}
