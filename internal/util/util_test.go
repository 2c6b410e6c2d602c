package util

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDict(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dict.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDict(t *testing.T) {
	path := writeDict(t, "a\nb\nc\n")
	lines, err := LoadDict(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 || lines[0] != "a" || lines[2] != "c" {
		t.Fatalf("字符集加载错误: %v", lines)
	}
}

func TestLoadDictStripsCarriageReturn(t *testing.T) {
	path := writeDict(t, "a\r\nb\r\n")
	lines, err := LoadDict(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("应剥掉 \\r: %q", lines)
	}
}

func TestLoadDictKeepsEmptyLines(t *testing.T) {
	// 行号即类别号, 空行也要占位
	path := writeDict(t, "a\n\nb\n")
	lines, err := LoadDict(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 || lines[1] != "" {
		t.Fatalf("空行应保留: %q", lines)
	}
}

func TestLoadDictMissingFile(t *testing.T) {
	if _, err := LoadDict("/no/such/dict.txt"); err == nil {
		t.Fatal("缺失文件应报错")
	}
}
