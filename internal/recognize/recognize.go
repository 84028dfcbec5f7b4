// Package recognize 调用视觉模型把报价/询价截图转成文本。
//
// 走 OpenAI 兼容协议（DashScope compatible-mode 即可），图片以 JPEG data URL 内联上传。
package recognize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/infra/imgx"
)

// ErrEmptyResponse 表示模型返回了空文本。
var ErrEmptyResponse = errors.New("vision model returned empty text")

// Options 是视觉模型的调用参数。
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Prompt      string
	Temperature float32
	// MaxSide 是上传前图片长边上限；<=0 使用 imgx.DefaultMaxSide。
	MaxSide int
}

// Error 是识别阶段的可追溯错误（report 中归类为 recognize_failed）。
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", domain.ErrCodeRecognizeFailed, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", domain.ErrCodeRecognizeFailed, filepath.Base(e.Path), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recognizer 是单个视觉模型客户端；调用方保证串行使用即可，内部无共享可变状态。
type Recognizer struct {
	client *openai.Client
	opts   Options
	log    *zap.Logger
}

// New 创建识别客户端；hc 为空时使用 http.DefaultClient。
func New(opts Options, hc *http.Client, log *zap.Logger) (*Recognizer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("vision.api_key 不能为空（可通过 PLATEMATCH_VISION_API_KEY 提供）")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("vision.model 不能为空")
	}
	if opts.MaxSide <= 0 {
		opts.MaxSide = imgx.DefaultMaxSide
	}
	if log == nil {
		log = zap.NewNop()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if u := strings.TrimSpace(opts.BaseURL); u != "" {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &Recognizer{client: openai.NewClientWithConfig(cfg), opts: opts, log: log}, nil
}

// RecognizeFile 读取并识别一张图片。
func (r *Recognizer) RecognizeFile(ctx context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{Path: path, Err: err}
	}
	text, err := r.Recognize(ctx, raw)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			re.Path = path
			return "", re
		}
		return "", &Error{Path: path, Err: err}
	}
	r.log.Info("image recognized", zap.String("file", filepath.Base(path)), zap.Int("chars", len([]rune(text))))
	return text, nil
}

// Recognize 识别内存中的图片（JPEG/PNG/BMP/WebP）。
func (r *Recognizer) Recognize(ctx context.Context, raw []byte) (string, error) {
	jpg, err := imgx.NormalizeJPEG(raw, r.opts.MaxSide)
	if err != nil {
		return "", &Error{Err: fmt.Errorf("图片解码失败：%w", err)}
	}

	resp, err := r.client.CreateChatCompletion(ctx, r.request(jpg))
	if err != nil {
		return "", &Error{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Err: ErrEmptyResponse}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &Error{Err: ErrEmptyResponse}
	}
	return text, nil
}

func (r *Recognizer) request(jpg []byte) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       r.opts.Model,
		Temperature: r.opts.Temperature,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    DataURL(jpg),
						Detail: openai.ImageURLDetailHigh,
					},
				},
				{
					Type: openai.ChatMessagePartTypeText,
					Text: r.opts.Prompt,
				},
			},
		}},
	}
}

// DataURL 把 JPEG 字节编码为 data:image/jpeg;base64,... 形式。
func DataURL(jpg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg)
}
