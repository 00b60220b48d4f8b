// Package validation implements the id/collection-path/db-name/local-dir/
// document validators, grounded on the teacher's internal/validation/bead.go
// and issue.go: explicit hand-written character-class and length checks,
// returning ddberrors values; a path-segment failure is wrapped around a
// descriptive fmt.Errorf cause (validation failures are terminal, not
// retried).
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ondisk/gitddb/internal/ddberrors"
	"github.com/ondisk/gitddb/internal/types"
)

// MaxFilePathLength is the single system constant every other length limit
// derives from (spec.md §4.1).
const MaxFilePathLength = 255

// windowsReservedNames are path segments forbidden on Windows filesystems;
// rejected everywhere for portability, matching the teacher's posture of
// validating for the least permissive target.
var windowsReservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const forbiddenPathChars = "<>:\"|?*\x00"

// MaxIdLength returns maxIdLength = MAX - workingDir.length - 1 - len(ext),
// per spec.md §4.1. A non-positive result means no id can ever validate
// against this working directory, which validateLocalDir should have
// already rejected.
func MaxIdLength(workingDir, ext string) int {
	return MaxFilePathLength - len(workingDir) - 1 - len(ext)
}

// MaxCollectionPathLength mirrors MaxIdLength's derivation for collection
// paths, leaving room for at least a one-character id plus extension.
func MaxCollectionPathLength(workingDir, ext string) int {
	return MaxFilePathLength - len(workingDir) - 1 - len(ext) - 1
}

// NormalizeCollectionPath normalizes a collection path: backslash and yen
// become slash, runs of slash collapse, a leading slash is stripped, and a
// trailing slash is ensured unless the path is empty.
func NormalizeCollectionPath(path string) string {
	if path == "" {
		return ""
	}
	r := strings.NewReplacer("\\", "/", "¥", "/")
	path = r.Replace(path)
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" || path == "/" {
		return ""
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

// ValidateCollectionPath validates an already-normalized collection path.
func ValidateCollectionPath(path, workingDir, ext string) error {
	if path == "" {
		return nil
	}
	if len(path) > MaxCollectionPathLength(workingDir, ext) {
		return ddberrors.New(ddberrors.InvalidCollectionPathLength, "validateCollectionPath")
	}
	segments := strings.Split(strings.TrimSuffix(path, "/"), "/")
	for _, seg := range segments {
		if err := validatePathSegment(seg); err != nil {
			return ddberrors.Wrap(ddberrors.InvalidCollectionPathCharacter, "validateCollectionPath", err)
		}
	}
	return nil
}

// ValidateId validates a shortId, which must not begin with "_" or "/",
// must not end with "/", and whose directory segments must not end with
// "." or space.
func ValidateId(id, workingDir, ext string) error {
	if id == "" {
		return ddberrors.New(ddberrors.UndefinedDocumentId, "validateId")
	}
	if strings.HasPrefix(id, "_") || strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/") {
		return ddberrors.New(ddberrors.InvalidIdCharacter, "validateId")
	}
	if utf8.RuneCountInString(id) == 0 || len([]byte(id)) == 0 {
		return ddberrors.New(ddberrors.UndefinedDocumentId, "validateId")
	}
	if len([]byte(id)) > MaxIdLength(workingDir, ext) {
		return ddberrors.New(ddberrors.InvalidIdLength, "validateId")
	}
	for _, seg := range strings.Split(id, "/") {
		if err := validatePathSegment(seg); err != nil {
			return ddberrors.Wrap(ddberrors.InvalidIdCharacter, "validateId", err)
		}
		if strings.HasSuffix(seg, ".") || strings.HasSuffix(seg, " ") {
			return ddberrors.New(ddberrors.InvalidIdCharacter, "validateId")
		}
	}
	return nil
}

func validatePathSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." {
		return fmt.Errorf("path segment %q is reserved", seg)
	}
	if windowsReservedNames[strings.ToUpper(seg)] {
		return fmt.Errorf("path segment %q is a Windows-reserved name", seg)
	}
	if strings.ContainsAny(seg, forbiddenPathChars) {
		return fmt.Errorf("path segment %q contains a forbidden character", seg)
	}
	return nil
}

// ValidateDbName validates a database name: no path separators, no
// characters forbidden in a directory name.
func ValidateDbName(name string) error {
	if name == "" {
		return ddberrors.New(ddberrors.UndefinedDatabaseName, "validateDbName")
	}
	if strings.ContainsAny(name, "/\\"+forbiddenPathChars) {
		return ddberrors.New(ddberrors.InvalidDbNameCharacter, "validateDbName")
	}
	if windowsReservedNames[strings.ToUpper(name)] || name == "." || name == ".." {
		return ddberrors.New(ddberrors.InvalidDbNameCharacter, "validateDbName")
	}
	return nil
}

// ValidateLocalDir validates the local directory a database lives under.
func ValidateLocalDir(dir string) error {
	if dir == "" {
		return ddberrors.New(ddberrors.InvalidLocalDirCharacter, "validateLocalDir")
	}
	if strings.ContainsAny(dir, forbiddenPathChars) {
		return ddberrors.New(ddberrors.InvalidLocalDirCharacter, "validateLocalDir")
	}
	if len(dir) >= MaxFilePathLength {
		return ddberrors.New(ddberrors.InvalidWorkingDirectoryPathLength, "validateLocalDir")
	}
	return nil
}

// ValidateDocument checks a document's shape: exactly "_id" and optionally
// "_deleted" may start with "_"; any other "_"-prefixed key is rejected.
// An absent "_id" is not itself an error here — callers generate one when
// absent (spec.md §4.4); a present "_id" that is not a string (nil
// included) is rejected with UndefinedDocumentId.
func ValidateDocument(doc types.Document) error {
	if doc == nil {
		return ddberrors.New(ddberrors.InvalidJsonObject, "validateDocument")
	}
	if v, ok := doc["_id"]; ok {
		if _, isString := v.(string); !isString {
			return ddberrors.New(ddberrors.UndefinedDocumentId, "validateDocument")
		}
	}
	if v, ok := doc["_deleted"]; ok {
		if _, isBool := v.(bool); !isBool {
			return ddberrors.New(ddberrors.InvalidPropertyNameInDocument, "validateDocument")
		}
	}
	for k := range doc {
		if k == "_id" || k == "_deleted" {
			continue
		}
		if strings.HasPrefix(k, "_") {
			return ddberrors.New(ddberrors.InvalidPropertyNameInDocument, "validateDocument")
		}
	}
	return nil
}
