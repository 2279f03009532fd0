// Package objectname implements cdist object-id/object-name normalization
// and validation, grounded on CdistObject's static helpers in the original
// implementation (core.py): sanitise_object_id, validate_object_id, and the
// join/split of "type-name/object-id" into a canonical object name.
package objectname

import (
	"path"
	"strings"

	"github.com/cdist-ng/cdist/internal/cdisterr"
)

// Split breaks "type-name/the/object-id" into its type-name and object-id
// parts. An object-id-less name (a singleton) yields an empty object-id.
func Split(objectName string) (typeName, objectID string) {
	parts := strings.SplitN(objectName, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// Join combines a type-name and an object-id into a canonical object name.
// An empty object-id yields the bare type name (singleton form).
func Join(typeName, objectID string) string {
	if objectID == "" {
		return typeName
	}
	return path.Join(typeName, objectID)
}

// Sanitise strips a single leading and trailing slash from an object-id.
// Sanitise(Sanitise(x)) == Sanitise(x) holds unless x begins or ends with
// "//" (only one slash is removed per side per call), and it is the
// identity on the empty id (singletons have no object-id to strip).
func Sanitise(objectID string) string {
	if objectID == "" {
		return objectID
	}
	if strings.HasPrefix(objectID, "/") {
		objectID = objectID[1:]
	}
	if strings.HasSuffix(objectID, "/") {
		objectID = objectID[:len(objectID)-1]
	}
	return objectID
}

// Validate rejects object-ids containing "//" or equal to ".".
func Validate(objectID string) error {
	if objectID == "" {
		return nil
	}
	if strings.Contains(objectID, "//") {
		return &cdisterr.IllegalObjectID{ObjectID: objectID, Reason: "object-id may not contain //"}
	}
	if objectID == "." {
		return &cdisterr.IllegalObjectID{ObjectID: objectID, Reason: "object-id may not be a ."}
	}
	return nil
}

// ValidateName splits objectName and validates its object-id component.
func ValidateName(objectName string) error {
	_, objectID := Split(objectName)
	return Validate(objectID)
}

// SanitiseName re-joins a name with its object-id sanitised.
func SanitiseName(objectName string) string {
	typeName, objectID := Split(objectName)
	return Join(typeName, Sanitise(objectID))
}
