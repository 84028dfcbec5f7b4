// Package scan 一次性扫描图片目录（watch 启动前的补扫、run 时挑选最新截图）。
package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Image 是扫描到的一张图片。
type Image struct {
	AbsPath string
	Name    string
	Ext     string // 小写，含点
	Size    int64
	ModTime time.Time
}

// ScanImages 扫描 dir 下（不递归）扩展名在 exts 中的图片。
//
// 规则：
// - 扩展名大小写不敏感；exts 需已规范化为小写、带点
// - 隐藏文件（. 开头）与空文件跳过（空文件通常是正在写入的截图）
// - 只做 stat，不读文件内容
func ScanImages(dir string, exts []string) ([]Image, error) {
	dir = filepath.Clean(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = struct{}{}
	}

	out := make([]Image, 0, len(entries))
	for _, d := range entries {
		if d.IsDir() || !d.Type().IsRegular() {
			continue
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if _, ok := allowed[ext]; !ok {
			continue
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if info.Size() == 0 {
			continue
		}
		out = append(out, Image{
			AbsPath: filepath.Join(dir, name),
			Name:    name,
			Ext:     ext,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Latest 返回修改时间最新的一张（同一时刻按文件名取最大）；没有图片时 ok=false。
func Latest(images []Image) (Image, bool) {
	if len(images) == 0 {
		return Image{}, false
	}
	best := images[0]
	for _, im := range images[1:] {
		if im.ModTime.After(best.ModTime) || (im.ModTime.Equal(best.ModTime) && im.Name > best.Name) {
			best = im
		}
	}
	return best, true
}

// IsImage 判断 path 的扩展名是否在 exts 中。
func IsImage(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
