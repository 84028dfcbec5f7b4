package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var exts = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

func TestScanImages_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()

	touch(t, filepath.Join(dir, "b.PNG"))
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, ".hidden.jpg"))
	touch(t, filepath.Join(dir, "sub", "c.jpg"))
	if err := os.WriteFile(filepath.Join(dir, "empty.jpg"), nil, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	got, err := ScanImages(dir, exts)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 2 {
		t.Fatalf("期望 2 张图片，实际 %d：%+v", len(got), got)
	}
	if got[0].Name != "a.jpg" || got[1].Name != "b.PNG" {
		t.Fatalf("顺序不符：%q, %q", got[0].Name, got[1].Name)
	}
	if got[1].Ext != ".png" {
		t.Fatalf("期望 ext=.png，实际=%q", got[1].Ext)
	}
	if got[0].AbsPath != filepath.Join(dir, "a.jpg") {
		t.Fatalf("AbsPath 不符：%q", got[0].AbsPath)
	}
}

func TestScanImages_MissingDir(t *testing.T) {
	if _, err := ScanImages(filepath.Join(t.TempDir(), "nope"), exts); err == nil {
		t.Fatalf("期望目录不存在时报错")
	}
}

func TestLatest(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	images := []Image{
		{Name: "a.jpg", ModTime: base},
		{Name: "c.jpg", ModTime: base.Add(time.Minute)},
		{Name: "b.jpg", ModTime: base.Add(time.Minute)},
	}
	got, ok := Latest(images)
	if !ok || got.Name != "c.jpg" {
		t.Fatalf("期望 c.jpg，实际=%q ok=%v", got.Name, ok)
	}
	if _, ok := Latest(nil); ok {
		t.Fatalf("空列表应返回 ok=false")
	}
}

func TestIsImage(t *testing.T) {
	if !IsImage("/x/QUOTE.JPEG", exts) {
		t.Fatalf("扩展名应大小写不敏感")
	}
	if IsImage("/x/quote.gif", exts) {
		t.Fatalf("gif 不在列表中")
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}
