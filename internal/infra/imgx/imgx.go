package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器

	_ "golang.org/x/image/bmp" // 注册 BMP 解码器
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 注册 WebP 解码器
)

// DefaultMaxSide 是上传给视觉模型前长边的上限（像素）。
const DefaultMaxSide = 2048

// NormalizeJPEG 把任意支持格式的图片转成 JPEG，供视觉模型以 data URL 方式上传。
//
// 约束：
// - 输入允许是 JPEG/PNG/BMP/WebP
// - 输出固定为 JPEG；透明区域铺白底（报价截图多为白底表格）
// - 长边超过 maxSide 时等比缩小（maxSide<=0 表示不缩放）；不放大
func NormalizeJPEG(raw []byte, maxSide int) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("图片为空")
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}

	w, h := fit(b.Dx(), b.Dy(), maxSide)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}

	var out bytes.Buffer
	// 文字识别对压缩伪影敏感，质量取 90。
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fit 计算等比缩放后的尺寸（长边不超过 maxSide）。
func fit(w, h, maxSide int) (int, int) {
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return w, h
	}
	if w >= h {
		nh := h * maxSide / w
		if nh < 1 {
			nh = 1
		}
		return maxSide, nh
	}
	nw := w * maxSide / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxSide
}
