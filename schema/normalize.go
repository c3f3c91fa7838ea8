package schema

import (
	"strings"
	"unicode/utf8"
)

// NormalizeDocumentName trims the name and rejects empty values.
func NormalizeDocumentName(name string) (DocumentName, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || !utf8.ValidString(trimmed) {
		return "", ErrInvalidName
	}
	return DocumentName(trimmed), nil
}

// NormalizeNamespace maps user input onto a namespace. "remote" is accepted as an alias.
func NormalizeNamespace(value string) (Namespace, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "local":
		return NamespaceLocal, nil
	case "database", "remote", "db":
		return NamespaceRemote, nil
	default:
		return "", ErrInvalidNamespace
	}
}

// ValidateText rejects text the durable JSON layout cannot hold unchanged.
func ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return ErrInvalidText
	}
	return nil
}
