package kiss

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestGenerateManifest(t *testing.T) {
	t.Parallel()
	stage := t.TempDir()
	for _, dir := range []string{"usr/bin", "usr/share/x"} {
		if err := os.MkdirAll(filepath.Join(stage, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	for _, file := range []string{"usr/bin/x", "usr/share/x/data"} {
		if err := os.WriteFile(filepath.Join(stage, file), []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := GenerateManifest(stage, "x"); err != nil {
		t.Fatalf("GenerateManifest: %v", err)
	}

	lines, err := ReadManifest(filepath.Join(stage, DBPath, "x", "manifest"))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}

	if !sort.SliceIsSorted(lines, func(i, j int) bool { return lines[i] > lines[j] }) {
		t.Errorf("manifest not reverse sorted: %v", lines)
	}

	want := map[string]bool{
		"/usr/bin/x":                       true,
		"/usr/bin/":                        true,
		"/usr/share/x/data":                true,
		"/" + DBPath + "/x/manifest":       true,
		"/" + DBPath + "/x/":               true,
	}
	got := make(map[string]bool, len(lines))
	for _, line := range lines {
		got[line] = true
	}
	for entry := range want {
		if !got[entry] {
			t.Errorf("manifest missing %s", entry)
		}
	}

	// Directories must follow their contents so deletion can walk the file
	// top to bottom.
	idxFile, idxDir := -1, -1
	for i, line := range lines {
		switch line {
		case "/usr/bin/x":
			idxFile = i
		case "/usr/bin/":
			idxDir = i
		}
	}
	if idxFile == -1 || idxDir == -1 || idxFile > idxDir {
		t.Errorf("directory precedes its contents: file=%d dir=%d", idxFile, idxDir)
	}
}

func TestManifestListsItself(t *testing.T) {
	t.Parallel()
	stage := t.TempDir()
	if err := GenerateManifest(stage, "self"); err != nil {
		t.Fatalf("GenerateManifest: %v", err)
	}
	set, err := manifestSet(filepath.Join(stage, DBPath, "self", "manifest"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set["/"+DBPath+"/self/manifest"]; !ok {
		t.Error("manifest does not list itself")
	}
}
