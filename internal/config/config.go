package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（可选）。
	FileName = "platematch.yaml"
	// EnvPrefix 是环境变量前缀：PLATEMATCH_CRAWL_TOKEN -> crawl.token。
	EnvPrefix = "PLATEMATCH_"

	maxConfigFileSize = 1 << 20
)

// 内置默认值（配置文件、环境变量、CLI 都未指定时）。
const (
	DefaultTextPath        = "specs.txt"
	DefaultCatalogPath     = "compare_data.xlsx"
	DefaultOutputPath      = "matched_result.xlsx"
	DefaultMaterial        = "304"
	DefaultOffset          = "0.05"
	DefaultStrictTol       = "0.01"
	DefaultPermissiveTol   = "0.1"
	DefaultMinThickness    = "0.1"
	DefaultMaxThickness    = "100"
	DefaultCrawlSource     = "tomals"
	DefaultCrawlBaseURL    = "http://admin.tomals.com"
	DefaultPageSize        = 20
	DefaultIntervalMS      = 300
	DefaultCrawlConcurrent = 2
	DefaultCacheDir        = ".platematch/cache"
	DefaultCacheTTL        = 24 * time.Hour
	DefaultVisionBaseURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultVisionModel     = "qwen-vl-plus"
	DefaultVisionPrompt    = "材质  规格   公司  厚度  产地  状态  价格"
	DefaultVisionTemp      = 0.3
	DefaultWatchDir        = "images"
	DefaultSettleMS        = 2000
	DefaultLogMode         = "production"
	DefaultLogLevel        = "info"
)

// DefaultExtensions 是监听目录时识别的图片扩展名。
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// DefaultMaterials 是比价接口的材质字典（materialId → 名称），顺序即抓取顺序。
var DefaultMaterials = []Material{
	{ID: 3, Name: "304"},
	{ID: 7, Name: "201/J1"},
	{ID: 9, Name: "201/J2"},
	{ID: 18, Name: "201/J5"},
	{ID: 27, Name: "430"},
	{ID: 28, Name: "316L"},
	{ID: 29, Name: "201"},
	{ID: 30, Name: "S32001"},
	{ID: 31, Name: "201/J3"},
	{ID: 32, Name: "201/J1A"},
}

// CLIArgs 是 CLI 暴露的覆盖项，保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --offset=0 必须能覆盖配置文件里的 0.05。
type CLIArgs struct {
	// ConfigPath 非空时必须存在；为空时尝试 <cwd>/platematch.yaml（可选）。
	ConfigPath string

	TextPath    string
	TextPathSet bool

	CatalogPath    string
	CatalogPathSet bool

	OutputPath    string
	OutputPathSet bool

	Material    string
	MaterialSet bool

	Offset    string
	OffsetSet bool

	Date    string
	DateSet bool

	WatchDir    string
	WatchDirSet bool

	LogLevel    string
	LogLevelSet bool
}

// overrides 把显式指定的 CLI 参数转换成 koanf 键值。
func (c CLIArgs) overrides() map[string]any {
	m := map[string]any{}
	set := func(ok bool, key, val string) {
		if ok {
			m[key] = val
		}
	}
	set(c.TextPathSet, "text_path", c.TextPath)
	set(c.CatalogPathSet, "catalog_path", c.CatalogPath)
	set(c.OutputPathSet, "output_path", c.OutputPath)
	set(c.MaterialSet, "default_material", c.Material)
	set(c.OffsetSet, "thickness_offset", c.Offset)
	set(c.DateSet, "crawl.date", c.Date)
	set(c.WatchDirSet, "vision.watch_dir", c.WatchDir)
	set(c.LogLevelSet, "log.level", c.LogLevel)
	return m
}

// FileConfig 对应 platematch.yaml 的解析结构（环境变量与 CLI 覆盖后再解码）。
type FileConfig struct {
	TextPath        string `koanf:"text_path"`
	CatalogPath     string `koanf:"catalog_path"`
	OutputPath      string `koanf:"output_path"`
	DefaultMaterial string `koanf:"default_material"`
	ThicknessOffset string `koanf:"thickness_offset"`

	Tolerance struct {
		Strict     string `koanf:"strict"`
		Permissive string `koanf:"permissive"`
	} `koanf:"tolerance"`

	ThicknessRange struct {
		Min string `koanf:"min"`
		Max string `koanf:"max"`
	} `koanf:"thickness_range"`

	Columns map[string][]string `koanf:"columns"`

	Crawl struct {
		Source      string     `koanf:"source"`
		BaseURL     string     `koanf:"base_url"`
		Token       string     `koanf:"token"`
		Date        string     `koanf:"date"`
		PageSize    int        `koanf:"page_size"`
		IntervalMS  int        `koanf:"interval_ms"`
		Concurrency int        `koanf:"concurrency"`
		ProxyURL    string     `koanf:"proxy_url"`
		Materials   []Material `koanf:"materials"`
	} `koanf:"crawl"`

	Cache struct {
		Dir       string        `koanf:"dir"`
		RedisAddr string        `koanf:"redis_addr"`
		TTL       time.Duration `koanf:"ttl"`
		ReadOnly  bool          `koanf:"read_only"`
	} `koanf:"cache"`

	Vision struct {
		APIKey      string   `koanf:"api_key"`
		BaseURL     string   `koanf:"base_url"`
		Model       string   `koanf:"model"`
		Prompt      string   `koanf:"prompt"`
		Temperature *float32 `koanf:"temperature"`
		WatchDir    string   `koanf:"watch_dir"`
		Extensions  []string `koanf:"extensions"`
		SettleMS    int      `koanf:"settle_ms"`
	} `koanf:"vision"`

	Log struct {
		Mode  string `koanf:"mode"`
		Level string `koanf:"level"`
	} `koanf:"log"`
}

// Material 是材质字典的一项。
type Material struct {
	ID   int    `koanf:"id"`
	Name string `koanf:"name"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件；未读取时为空。
	ConfigPath string

	TextPath    string
	CatalogPath string
	OutputPath  string

	DefaultMaterial     string
	Offset              decimal.Decimal
	StrictTolerance     decimal.Decimal
	PermissiveTolerance decimal.Decimal
	MinThickness        decimal.Decimal
	MaxThickness        decimal.Decimal

	// Columns 是字段 → 列名子串的覆盖项；未配置的字段使用内置映射。
	Columns map[string][]string

	Crawl  CrawlConfig
	Cache  CacheConfig
	Vision VisionConfig
	Log    LogConfig
}

type CrawlConfig struct {
	// Source 是比价接口在 provider.Registry 中的名称。
	Source  string
	BaseURL string
	Token   string
	// Date 为空表示“运行当天”。
	Date        string
	PageSize    int
	Interval    time.Duration
	Concurrency int
	ProxyURL    string
	Materials   []Material
}

type CacheConfig struct {
	Dir string
	// RedisAddr 非空时快照存 redis，否则存本地目录。
	RedisAddr string
	TTL       time.Duration
	// ReadOnly 时只读取快照，不写入（快照由其他机器维护）。
	ReadOnly bool
}

type VisionConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Prompt      string
	Temperature float32
	WatchDir    string
	Extensions  []string
	Settle      time.Duration
}

type LogConfig struct {
	Mode  string
	Level string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置文件、环境变量与 CLI 参数，合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：该文件必须存在
// 2) 否则尝试 <cwd>/platematch.yaml（不存在不算错误）
//
// 覆盖优先级（固定）：CLI > 环境变量 PLATEMATCH_* > 配置文件 > 内置默认值。
// 相对路径一律以 cwd 为基准转换为绝对路径。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	k := koanf.New(".")

	cfgPath := ""
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		content, exists, err := readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else {
		p := filepath.Join(cwdAbs, FileName)
		content, exists, err := readFileConfig(p)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		if exists {
			cfgPath = p
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: "env", Err: err}
	}

	for key, val := range cli.overrides() {
		if err := k.Set(key, val); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: "cli", Err: err}
		}
	}

	var fc FileConfig
	if err := k.Unmarshal("", &fc); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff, err := merge(cwdAbs, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.ConfigPath = cfgPath
	return eff, nil
}

// envSections 是带下划线分节的顶层键；其余键保持原样（例如 PLATEMATCH_TEXT_PATH -> text_path）。
var envSections = []string{"tolerance", "thickness_range", "columns", "crawl", "cache", "vision", "log"}

// envKey 把环境变量名映射为 koanf 键：
//
//	PLATEMATCH_CRAWL_TOKEN -> crawl.token
//	PLATEMATCH_THICKNESS_RANGE_MAX -> thickness_range.max
//	PLATEMATCH_OUTPUT_PATH -> output_path
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range envSections {
		if strings.HasPrefix(lower, sec+"_") {
			return sec + "." + strings.TrimPrefix(lower, sec+"_")
		}
	}
	return lower
}

// envValue 在 envKey 的基础上把列表型的键按逗号拆分。
func envValue(key, value string) (string, any) {
	k := envKey(key)
	if k == "vision.extensions" {
		var out []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return k, out
	}
	return k, value
}

func merge(cwd string, fc FileConfig) (EffectiveConfig, error) {
	var eff EffectiveConfig

	eff.TextPath = absCleanFrom(cwd, orDefault(fc.TextPath, DefaultTextPath))
	eff.CatalogPath = absCleanFrom(cwd, orDefault(fc.CatalogPath, DefaultCatalogPath))
	eff.OutputPath = absCleanFrom(cwd, orDefault(fc.OutputPath, DefaultOutputPath))
	eff.DefaultMaterial = orDefault(fc.DefaultMaterial, DefaultMaterial)

	var err error
	if eff.Offset, err = parseDecimal("thickness_offset", fc.ThicknessOffset, DefaultOffset, true); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.StrictTolerance, err = parseDecimal("tolerance.strict", fc.Tolerance.Strict, DefaultStrictTol, false); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.PermissiveTolerance, err = parseDecimal("tolerance.permissive", fc.Tolerance.Permissive, DefaultPermissiveTol, false); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.MinThickness, err = parseDecimal("thickness_range.min", fc.ThicknessRange.Min, DefaultMinThickness, false); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.MaxThickness, err = parseDecimal("thickness_range.max", fc.ThicknessRange.Max, DefaultMaxThickness, false); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.MaxThickness.LessThan(eff.MinThickness) {
		return EffectiveConfig{}, fmt.Errorf("thickness_range.max (%s) 小于 min (%s)", eff.MaxThickness, eff.MinThickness)
	}

	eff.Columns = make(map[string][]string, len(fc.Columns))
	for field, names := range fc.Columns {
		switch field {
		case "material", "thickness", "spec", "record_id":
		default:
			return EffectiveConfig{}, fmt.Errorf("columns 只支持 material/thickness/spec/record_id，实际是 %q", field)
		}
		eff.Columns[field] = append([]string(nil), names...)
	}

	crawl, err := mergeCrawl(fc)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.Crawl = crawl

	eff.Cache = CacheConfig{
		Dir:       absCleanFrom(cwd, orDefault(fc.Cache.Dir, DefaultCacheDir)),
		RedisAddr: strings.TrimSpace(fc.Cache.RedisAddr),
		TTL:       fc.Cache.TTL,
		ReadOnly:  fc.Cache.ReadOnly,
	}
	if eff.Cache.TTL <= 0 {
		eff.Cache.TTL = DefaultCacheTTL
	}

	eff.Vision = VisionConfig{
		APIKey:      strings.TrimSpace(fc.Vision.APIKey),
		BaseURL:     orDefault(fc.Vision.BaseURL, DefaultVisionBaseURL),
		Model:       orDefault(fc.Vision.Model, DefaultVisionModel),
		Prompt:      orDefault(fc.Vision.Prompt, DefaultVisionPrompt),
		Temperature: DefaultVisionTemp,
		WatchDir:    absCleanFrom(cwd, orDefault(fc.Vision.WatchDir, DefaultWatchDir)),
		Extensions:  normalizeExtensions(fc.Vision.Extensions),
		Settle:      time.Duration(fc.Vision.SettleMS) * time.Millisecond,
	}
	if fc.Vision.Temperature != nil {
		eff.Vision.Temperature = *fc.Vision.Temperature
	}
	if fc.Vision.SettleMS <= 0 {
		eff.Vision.Settle = DefaultSettleMS * time.Millisecond
	}
	if err := validateHTTPURL("vision.base_url", eff.Vision.BaseURL); err != nil {
		return EffectiveConfig{}, err
	}

	eff.Log = LogConfig{
		Mode:  orDefault(fc.Log.Mode, DefaultLogMode),
		Level: orDefault(fc.Log.Level, DefaultLogLevel),
	}
	switch eff.Log.Mode {
	case "production", "development":
	default:
		return EffectiveConfig{}, fmt.Errorf("log.mode 只能是 production 或 development，实际是 %q", eff.Log.Mode)
	}

	return eff, nil
}

func mergeCrawl(fc FileConfig) (CrawlConfig, error) {
	c := CrawlConfig{
		Source:      strings.ToLower(orDefault(fc.Crawl.Source, DefaultCrawlSource)),
		BaseURL:     strings.TrimRight(orDefault(fc.Crawl.BaseURL, DefaultCrawlBaseURL), "/"),
		Token:       strings.TrimSpace(fc.Crawl.Token),
		Date:        strings.TrimSpace(fc.Crawl.Date),
		PageSize:    fc.Crawl.PageSize,
		Interval:    time.Duration(fc.Crawl.IntervalMS) * time.Millisecond,
		Concurrency: fc.Crawl.Concurrency,
		ProxyURL:    strings.TrimSpace(fc.Crawl.ProxyURL),
	}
	if err := validateHTTPURL("crawl.base_url", c.BaseURL); err != nil {
		return CrawlConfig{}, err
	}
	if c.Date != "" {
		if _, err := time.Parse(time.DateOnly, c.Date); err != nil {
			return CrawlConfig{}, fmt.Errorf("crawl.date 必须是 YYYY-MM-DD：%q", c.Date)
		}
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if fc.Crawl.IntervalMS == 0 {
		c.Interval = DefaultIntervalMS * time.Millisecond
	}
	if c.Interval < 0 {
		c.Interval = 0
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultCrawlConcurrent
	}
	// 范围 [1, 8]；超出截断，避免把比价接口打爆。
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.Concurrency > 8 {
		c.Concurrency = 8
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return CrawlConfig{}, fmt.Errorf("crawl.proxy_url 无效：%w", err)
		}
	}

	if len(fc.Crawl.Materials) == 0 {
		c.Materials = append([]Material(nil), DefaultMaterials...)
	} else {
		seen := make(map[int]bool, len(fc.Crawl.Materials))
		for _, m := range fc.Crawl.Materials {
			m.Name = strings.TrimSpace(m.Name)
			if m.ID <= 0 || m.Name == "" {
				return CrawlConfig{}, fmt.Errorf("crawl.materials 每项都需要正整数 id 与非空 name：%+v", m)
			}
			if seen[m.ID] {
				return CrawlConfig{}, fmt.Errorf("crawl.materials 中 id 重复：%d", m.ID)
			}
			seen[m.ID] = true
			c.Materials = append(c.Materials, m)
		}
	}
	return c, nil
}

// MaterialNames 返回材质字典中的名称（用于识别文本中的牌号）。
func (c CrawlConfig) MaterialNames() []string {
	out := make([]string, 0, len(c.Materials))
	for _, m := range c.Materials {
		out = append(out, m.Name)
	}
	return out
}

func parseDecimal(key, raw, def string, allowZero bool) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s 不是数字：%q", key, raw)
	}
	if d.IsNegative() || (!allowZero && d.IsZero()) {
		return decimal.Decimal{}, fmt.Errorf("%s 超出范围：%s", key, d)
	}
	return d, nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", key, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s 必须是 http/https：%q", key, raw)
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		return append([]string(nil), DefaultExtensions...)
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取配置文件原文（超过 1MB 视为无效）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (content []byte, exists bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if info.IsDir() {
		return nil, true, fmt.Errorf("%q 是目录", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, true, fmt.Errorf("配置文件超过 %d 字节", maxConfigFileSize)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, true, err
	}
	return b, true, nil
}
