package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadIdentifiers(t *testing.T) {
	content := `10.1038/nature12373
# comment
https://doi.org/10.1038/NATURE12373
   
PMID: 23456789
23456789, extra column
not an identifier
`

	list, err := ReadIdentifiers(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ReadIdentifiers failed: %v", err)
	}

	want := IdentifierList{
		Identifiers: []string{"10.1038/nature12373", "pmid:23456789"},
		Rejected:    []string{"not an identifier"},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("ReadIdentifiers mismatch (-want +got):\n%s", diff)
	}
}

func TestReadIdentifiersFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	if err := os.WriteFile(path, []byte("10.1/a\n10.1/b\n"), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := ReadIdentifiersFromFile(path)
	if err != nil {
		t.Fatalf("ReadIdentifiersFromFile failed: %v", err)
	}
	if len(list.Identifiers) != 2 {
		t.Errorf("expected 2 identifiers, got %v", list.Identifiers)
	}
}

func TestReadIdentifiersFromFile_NonExistent(t *testing.T) {
	if _, err := ReadIdentifiersFromFile("no_such_file.txt"); err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}
