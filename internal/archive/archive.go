// Package archive guards .pbix/.twbx container handling against hostile
// inputs: path traversal, zip bombs, and oversized payloads. Validation runs
// eagerly over the full member list and rejects the whole archive before any
// extraction, so a malicious archive never yields a partial extract.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Limits bounds what an archive may contain before it is rejected.
type Limits struct {
	// MaxArchiveSize caps the archive file itself, in bytes.
	MaxArchiveSize int64
	// MaxExtractedSize caps both any single member and the aggregate
	// uncompressed size, in bytes.
	MaxExtractedSize int64
	// MaxMembers caps the number of members in the archive.
	MaxMembers int
	// MaxCompressionRatio caps aggregate uncompressed/compressed size.
	MaxCompressionRatio float64
}

// DefaultLimits returns the standard ceilings: 100 MiB archives, 500 MiB
// extracted, 1000 members, 100:1 compression.
func DefaultLimits() Limits {
	return Limits{
		MaxArchiveSize:      100 * 1024 * 1024,
		MaxExtractedSize:    500 * 1024 * 1024,
		MaxMembers:          1000,
		MaxCompressionRatio: 100,
	}
}

// Member describes one archive entry: produced when an archive is opened,
// consumed once during validation, never mutated.
type Member struct {
	Name             string
	UncompressedSize int64
	CompressedSize   int64
}

// PathTraversalError reports a member whose name escapes the extraction root.
type PathTraversalError struct {
	Name string
}

// Error implements the error interface.
func (e PathTraversalError) Error() string {
	return fmt.Sprintf("path traversal attempt detected in %q", e.Name)
}

// ZipBombError reports an archive whose shape suggests a decompression bomb.
type ZipBombError struct {
	Reason string
}

// Error implements the error interface.
func (e ZipBombError) Error() string {
	return "zip bomb suspected: " + e.Reason
}

// SizeLimitError reports a size ceiling violation.
type SizeLimitError struct {
	What  string
	Size  int64
	Limit int64
}

// Error implements the error interface.
func (e SizeLimitError) Error() string {
	return fmt.Sprintf("%s size %d exceeds limit %d", e.What, e.Size, e.Limit)
}

// CorruptArchiveError reports an archive that could not be opened as a zip.
type CorruptArchiveError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e CorruptArchiveError) Error() string {
	return fmt.Sprintf("invalid or corrupted archive %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e CorruptArchiveError) Unwrap() error { return e.Err }

// Validator validates and extracts archive contents under configured limits.
type Validator struct {
	limits Limits
}

// NewValidator creates a Validator. Zero-valued limit fields fall back to
// the defaults.
func NewValidator(limits Limits) *Validator {
	def := DefaultLimits()
	if limits.MaxArchiveSize <= 0 {
		limits.MaxArchiveSize = def.MaxArchiveSize
	}
	if limits.MaxExtractedSize <= 0 {
		limits.MaxExtractedSize = def.MaxExtractedSize
	}
	if limits.MaxMembers <= 0 {
		limits.MaxMembers = def.MaxMembers
	}
	if limits.MaxCompressionRatio <= 0 {
		limits.MaxCompressionRatio = def.MaxCompressionRatio
	}
	return &Validator{limits: limits}
}

// ValidateFile checks that path names a regular file within the archive
// size ceiling.
func (v *Validator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > v.limits.MaxArchiveSize {
		return SizeLimitError{What: "archive", Size: info.Size(), Limit: v.limits.MaxArchiveSize}
	}
	return nil
}

// ValidateMember checks a single member against the extraction root and the
// per-member size ceiling.
func (v *Validator) ValidateMember(member Member, root string) error {
	if err := checkMemberPath(member.Name, root); err != nil {
		return err
	}
	if member.UncompressedSize > v.limits.MaxExtractedSize {
		return SizeLimitError{What: "member " + member.Name, Size: member.UncompressedSize, Limit: v.limits.MaxExtractedSize}
	}
	return nil
}

// ValidateArchive enumerates all members of the zip archive at path and
// rejects the whole archive on the first violation: traversal paths, too
// many members, a suspicious aggregate compression ratio, or aggregate
// uncompressed size over the ceiling. On success it returns the member
// descriptors; nothing has been extracted either way.
func (v *Validator) ValidateArchive(path string) ([]Member, error) {
	if err := v.ValidateFile(path); err != nil {
		return nil, err
	}

	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, CorruptArchiveError{Path: path, Err: err}
	}
	defer reader.Close()

	if len(reader.File) > v.limits.MaxMembers {
		return nil, ZipBombError{Reason: fmt.Sprintf("archive contains %d members (limit %d)", len(reader.File), v.limits.MaxMembers)}
	}

	members := make([]Member, 0, len(reader.File))
	var totalUncompressed, totalCompressed int64
	for _, file := range reader.File {
		member := Member{
			Name:             file.Name,
			UncompressedSize: int64(file.UncompressedSize64),
			CompressedSize:   int64(file.CompressedSize64),
		}
		if err := v.ValidateMember(member, os.TempDir()); err != nil {
			return nil, err
		}
		totalUncompressed += member.UncompressedSize
		totalCompressed += member.CompressedSize
		members = append(members, member)
	}

	if totalCompressed > 0 {
		ratio := float64(totalUncompressed) / float64(totalCompressed)
		if ratio > v.limits.MaxCompressionRatio {
			return nil, ZipBombError{Reason: fmt.Sprintf("compression ratio %.1f:1 (limit %.0f:1)", ratio, v.limits.MaxCompressionRatio)}
		}
	}
	if totalUncompressed > v.limits.MaxExtractedSize {
		return nil, SizeLimitError{What: "aggregate uncompressed", Size: totalUncompressed, Limit: v.limits.MaxExtractedSize}
	}

	return members, nil
}

// Extract copies the named member out of the archive into root, after
// validating the whole archive and the member itself. allowedExts, when
// non-empty, restricts the member's lowercased extension.
func (v *Validator) Extract(archivePath, memberName, root string, allowedExts []string) (string, error) {
	if _, err := v.ValidateArchive(archivePath); err != nil {
		return "", err
	}

	if len(allowedExts) > 0 {
		ext := strings.ToLower(filepath.Ext(memberName))
		allowed := false
		for _, candidate := range allowedExts {
			if ext == candidate {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("extension %q not allowed for extraction", ext)
		}
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", CorruptArchiveError{Path: archivePath, Err: err}
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != memberName {
			continue
		}
		member := Member{
			Name:             file.Name,
			UncompressedSize: int64(file.UncompressedSize64),
			CompressedSize:   int64(file.CompressedSize64),
		}
		if err := v.ValidateMember(member, root); err != nil {
			return "", err
		}
		return copyMember(file, root)
	}
	return "", fmt.Errorf("member %q not found in %s", memberName, archivePath)
}

// TempDir creates a uniquely named extraction directory and returns it with
// a cleanup func. Cleanup failures are ignored.
func TempDir(prefix string) (string, func(), error) {
	dir := filepath.Join(os.TempDir(), prefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

func checkMemberPath(name, root string) error {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return PathTraversalError{Name: name}
	}
	for _, segment := range strings.Split(filepath.ToSlash(name), "/") {
		if segment == ".." {
			return PathTraversalError{Name: name}
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve extraction root: %w", err)
	}
	resolved := filepath.Join(absRoot, filepath.FromSlash(name))
	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return PathTraversalError{Name: name}
	}
	return nil
}

func copyMember(file *zip.File, root string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(file.Name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return "", fmt.Errorf("mkdir for %s: %w", file.Name, err)
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open member %s: %w", file.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	// LimitReader backstops a member lying about its uncompressed size.
	if _, err := io.Copy(out, io.LimitReader(src, int64(file.UncompressedSize64)+1)); err != nil {
		return "", fmt.Errorf("extract %s: %w", file.Name, err)
	}
	return dest, nil
}
