package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/infra/fsx"
	"github.com/John-Robertt/platematch/internal/scan"
)

// RecognizeToFile 识别一张图片并把文本原子写入 textPath（覆盖旧文本）。
func RecognizeToFile(ctx context.Context, rec Recognizer, imagePath, textPath string) (string, error) {
	if rec == nil {
		return "", errors.New("未配置视觉模型（vision.api_key）")
	}
	text, err := rec.RecognizeFile(ctx, imagePath)
	if err != nil {
		return "", err
	}
	if err := fsx.WriteFileAtomic(textPath, []byte(strings.TrimRight(text, "\n")+"\n")); err != nil {
		return "", fmt.Errorf("%s：写入 %s 失败：%w", domain.ErrCodeIOFailed, textPath, err)
	}
	return text, nil
}

// loadText 准备原始文本。
//
// 规则：
// - forceRecognize 或文本文件不存在时，若配置了视觉模型，识别 watch_dir 中最新的一张图片
// - 识别失败只记诊断，继续使用已有文本（若有）
// - 最终仍读不到文本：返回包装了 domain.ErrTextMissing 的错误（致命）
func loadText(ctx context.Context, eff config.EffectiveConfig, deps Deps, forceRecognize bool) (string, domain.TextInfo, []domain.Diagnostic, error) {
	var diags []domain.Diagnostic
	info := domain.TextInfo{Source: domain.TextSourceFile}

	_, statErr := os.Stat(eff.TextPath)
	missing := errors.Is(statErr, os.ErrNotExist)

	if (forceRecognize || missing) && deps.Recognizer != nil {
		text, image, err := recognizeLatest(ctx, eff, deps)
		switch {
		case err != nil:
			diags = append(diags, domain.Diagnostic{Level: domain.LevelWarn, Code: domain.ErrCodeRecognizeFailed, Message: err.Error()})
		case image != "":
			info = domain.TextInfo{Source: domain.TextSourceRecognized, Image: image, Chars: len([]rune(text))}
			return text, info, diags, nil
		}
	} else if forceRecognize {
		diags = append(diags, domain.Diagnostic{
			Level:   domain.LevelWarn,
			Code:    domain.ErrCodeRecognizeFailed,
			Message: "未配置视觉模型（vision.api_key），改用已有文本",
		})
	}

	b, err := os.ReadFile(eff.TextPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", info, diags, fmt.Errorf("%w：%s", domain.ErrTextMissing, eff.TextPath)
		}
		return "", info, diags, fmt.Errorf("%s：读取 %s 失败：%w", domain.ErrCodeIOFailed, eff.TextPath, err)
	}
	text := string(b)
	info.Chars = len([]rune(text))
	return text, info, diags, nil
}

// recognizeLatest 识别 watch_dir 中最新的一张图片；目录里没有图片时 image 为空且不报错。
func recognizeLatest(ctx context.Context, eff config.EffectiveConfig, deps Deps) (text string, image string, err error) {
	images, err := scan.ScanImages(eff.Vision.WatchDir, eff.Vision.Extensions)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("扫描图片目录失败：%w", err)
	}
	latest, ok := scan.Latest(images)
	if !ok {
		return "", "", nil
	}
	deps.logger().Info("recognizing latest image", zap.String("file", latest.Name))
	text, err = RecognizeToFile(ctx, deps.Recognizer, latest.AbsPath, eff.TextPath)
	if err != nil {
		return "", "", err
	}
	return text, filepath.Base(latest.AbsPath), nil
}
