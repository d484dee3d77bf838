package tally

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddCopiesBytes(t *testing.T) {
	tab := New()
	buf := []byte("cat")
	tab.Add(buf)
	copy(buf, "dog")
	tab.Add(buf)

	if tab.Count("cat") != 1 || tab.Count("dog") != 1 {
		t.Fatalf("cat=%d dog=%d", tab.Count("cat"), tab.Count("dog"))
	}
	if tab.Len() != 2 || tab.Total() != 2 {
		t.Fatalf("len=%d total=%d", tab.Len(), tab.Total())
	}
}

func TestEachIsOrdered(t *testing.T) {
	tab := New()
	for _, w := range []string{"pear", "apple", "fig", "apple"} {
		tab.Add([]byte(w))
	}

	var got []string
	tab.Each(func(tok string, n uint64) { got = append(got, tok) })
	want := []string{"apple", "fig", "pear"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWriteFile(t *testing.T) {
	tab := New()
	for _, w := range []string{"the", "cat", "the"} {
		tab.Add([]byte(w))
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "consumer_output_1.txt")
	if err := tab.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "cat\t1\nthe\t2\n" {
		t.Fatalf("content %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestWriteEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := New().WriteFile(path); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() != 0 {
		t.Fatalf("want empty file, got %v %v", info, err)
	}
}

func TestWriteFileBadDir(t *testing.T) {
	if err := New().WriteFile(filepath.Join(t.TempDir(), "missing", "out.txt")); err == nil {
		t.Fatal("write into missing dir succeeded")
	}
}
