package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Rodons/CitationMap/internal/model"
)

// IdentifierList is the parsed content of an identifier batch
type IdentifierList struct {
	Identifiers []string // Normalized, deduplicated, input order
	Rejected    []string // Lines that were neither DOI nor PMID
}

// ParseIdentifiers normalizes raw identifiers, dropping duplicates after normalization
func ParseIdentifiers(raw []string) IdentifierList {
	var list IdentifierList
	seen := make(map[string]bool)

	for _, r := range raw {
		id, ok := model.NormalizeIdentifier(r)
		if !ok {
			list.Rejected = append(list.Rejected, strings.TrimSpace(r))
			continue
		}
		if !seen[id] {
			seen[id] = true
			list.Identifiers = append(list.Identifiers, id)
		}
	}

	return list
}

// ReadIdentifiers reads one identifier per line, skipping blanks and # comments.
// A comma or tab ends the identifier so exported CSV columns can be fed directly.
func ReadIdentifiers(r io.Reader) (IdentifierList, error) {
	var raw []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexAny(line, ",\t"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}

		raw = append(raw, line)
	}

	if err := scanner.Err(); err != nil {
		return IdentifierList{}, fmt.Errorf("scan identifiers: %w", err)
	}

	return ParseIdentifiers(raw), nil
}

// ReadIdentifiersFromFile reads an identifier batch file
func ReadIdentifiersFromFile(filePath string) (IdentifierList, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return IdentifierList{}, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadIdentifiers(file)
}
