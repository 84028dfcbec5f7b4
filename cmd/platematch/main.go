package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/platematch/internal/app/run"
	"github.com/John-Robertt/platematch/internal/config"
	"github.com/John-Robertt/platematch/internal/domain"
	"github.com/John-Robertt/platematch/internal/infra/logx"
	"github.com/John-Robertt/platematch/internal/spec"
	"github.com/John-Robertt/platematch/internal/watch"
)

var version = "dev"

func main() {
	os.Exit(newCLI().execute(context.Background(), os.Args[1:]))
}

// cli 持有进程级的 I/O 与可替换的构造函数（测试中替换为内存实现）。
type cli struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	getwd     func() (string, error)
	newLogger func(mode, level string) (*zap.Logger, error)
	newDeps   func(eff config.EffectiveConfig, log *zap.Logger) (run.Deps, func(), error)
}

func newCLI() *cli {
	return &cli{
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		stdin:     os.Stdin,
		getwd:     os.Getwd,
		newLogger: logx.New,
		newDeps:   run.NewDeps,
	}
}

// exitCode 让 RunE 在已经输出报告后只携带退出码返回。
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// 退出码：0 成功；1 运行完成但没有产出（或有致命诊断）；2 参数错误。
func (c *cli) execute(ctx context.Context, args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ec exitCode
	if errors.As(err, &ec) {
		return int(ec)
	}
	fmt.Fprintf(c.stderr, "参数错误：%v\n\n", err)
	fmt.Fprint(c.stderr, root.UsageString())
	return 2
}

// flags 是各子命令共用的参数；是否显式指定由 cmd.Flags().Changed 判断。
type flags struct {
	config   string
	logLevel string

	text     string
	catalog  string
	output   string
	material string
	offset   string
	date     string
	watchDir string

	recognize bool
	crawl     string
	backfill  bool
	runAfter  bool
}

func (f *flags) cliArgs(cmd *cobra.Command) config.CLIArgs {
	fs := cmd.Flags()
	return config.CLIArgs{
		ConfigPath:     f.config,
		TextPath:       f.text,
		TextPathSet:    fs.Changed("text"),
		CatalogPath:    f.catalog,
		CatalogPathSet: fs.Changed("catalog"),
		OutputPath:     f.output,
		OutputPathSet:  fs.Changed("output"),
		Material:       f.material,
		MaterialSet:    fs.Changed("material"),
		Offset:         f.offset,
		OffsetSet:      fs.Changed("offset"),
		Date:           f.date,
		DateSet:        fs.Changed("date"),
		WatchDir:       f.watchDir,
		WatchDirSet:    fs.Changed("dir"),
		LogLevel:       f.logLevel,
		LogLevelSet:    fs.Changed("log-level"),
	}
}

func (f *flags) crawlMode() (run.CrawlMode, error) {
	switch m := run.CrawlMode(strings.ToLower(strings.TrimSpace(f.crawl))); m {
	case "", run.CrawlAuto:
		return run.CrawlAuto, nil
	case run.CrawlSkip, run.CrawlForce:
		return m, nil
	default:
		return "", fmt.Errorf("--crawl 只能是 auto、skip 或 force，实际是 %q", f.crawl)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "platematch",
		Short: "不锈钢板规格识别与比价目录匹配",
		Long: `platematch 从询价文本（或截图识别结果）中抽取板材规格，
在当天的比价目录中筛选匹配的报价，并写出结果表。

stdout 非终端时只输出一个 JSON 报告；进度与日志一律写 stderr。`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "配置文件路径（默认尝试 ./platematch.yaml）")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "日志级别：debug|info|warn|error")

	textFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&f.text, "text", "", "原始规格文本路径")
		cmd.Flags().StringVar(&f.material, "material", "", "无法识别材质时使用的默认材质")
		cmd.Flags().StringVar(&f.offset, "offset", "", "厚度偏移量（筛选厚度 = 标称厚度 − 偏移量）")
	}
	catalogFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&f.catalog, "catalog", "", "比价目录 xlsx 路径")
		cmd.Flags().StringVar(&f.date, "date", "", "抓取日期 YYYY-MM-DD（默认当天）")
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "完整流程：准备文本、刷新目录、匹配并写出结果表",
		Long: `完整流程：准备文本、刷新目录、匹配并写出结果表。

目录刷新（--crawl）：
  auto   目录文件当天已更新则直接使用，否则先查当天快照，再抓取（默认）
  skip   只使用已有目录文件
  force  忽略当天文件与快照，重新抓取

Examples:
  platematch run
  platematch run --text specs.txt --crawl skip
  platematch run --recognize --output out.xlsx`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := f.crawlMode()
			if err != nil {
				return err
			}
			return c.doRun(cmd, f, run.Options{Recognize: f.recognize, Crawl: mode})
		},
	}
	textFlags(runCmd)
	catalogFlags(runCmd)
	runCmd.Flags().StringVar(&f.output, "output", "", "结果表 xlsx 路径")
	runCmd.Flags().BoolVar(&f.recognize, "recognize", false, "总是重新识别监听目录中最新的图片")
	runCmd.Flags().StringVar(&f.crawl, "crawl", string(run.CrawlAuto), "目录刷新方式：auto|skip|force")

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "只用已有文本与目录匹配（不识别、不抓取）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.doRun(cmd, f, run.Options{Crawl: run.CrawlSkip})
		},
	}
	textFlags(matchCmd)
	matchCmd.Flags().StringVar(&f.catalog, "catalog", "", "比价目录 xlsx 路径")
	matchCmd.Flags().StringVar(&f.output, "output", "", "结果表 xlsx 路径")

	crawlCmd := &cobra.Command{
		Use:   "crawl",
		Short: "抓取比价目录并写入 catalog_path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.doCrawl(cmd, f)
		},
	}
	catalogFlags(crawlCmd)

	extractCmd := &cobra.Command{
		Use:   "extract [file|-]",
		Short: "只抽取规格并输出 JSON（不读目录）",
		Long: `只抽取规格并输出 JSON（不读目录）。

未指定文件时读取 text_path；"-" 表示从 stdin 读取。`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.doExtract(cmd, f, args)
		},
	}
	textFlags(extractCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "监听截图目录：新图片识别为文本，可选地立即运行匹配",
		Long: `监听截图目录：新图片识别为文本写入 text_path，可选地立即运行匹配。

--run 时每次匹配输出一行 JSON 报告（stdout 非终端时）。Ctrl+C 退出。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := f.crawlMode()
			if err != nil {
				return err
			}
			return c.doWatch(cmd, f, mode)
		},
	}
	textFlags(watchCmd)
	catalogFlags(watchCmd)
	watchCmd.Flags().StringVar(&f.watchDir, "dir", "", "监听目录")
	watchCmd.Flags().StringVar(&f.output, "output", "", "结果表 xlsx 路径")
	watchCmd.Flags().BoolVar(&f.backfill, "backfill", false, "启动时先处理目录中已有的图片")
	watchCmd.Flags().BoolVar(&f.runAfter, "run", false, "识别完成后立即运行匹配")
	watchCmd.Flags().StringVar(&f.crawl, "crawl", string(run.CrawlAuto), "--run 时的目录刷新方式：auto|skip|force")

	root.AddCommand(runCmd, matchCmd, crawlCmd, extractCmd, watchCmd)
	return root
}

// setup 加载配置并构造 logger；失败时已输出报告，返回 exitCode。
func (c *cli) setup(cmd *cobra.Command, f *flags) (config.EffectiveConfig, *zap.Logger, error) {
	cwd, err := c.getwd()
	if err != nil {
		fmt.Fprintf(c.stderr, "读取当前目录失败：%v\n", err)
		return config.EffectiveConfig{}, nil, exitCode(1)
	}

	eff, err := config.LoadEffective(cwd, f.cliArgs(cmd))
	if err != nil {
		c.emitReport(reportForConfigError(err))
		return config.EffectiveConfig{}, nil, exitCode(1)
	}

	log, err := c.newLogger(eff.Log.Mode, eff.Log.Level)
	if err != nil {
		c.emitReport(reportForConfigError(&config.Error{Code: config.ErrCodeInvalid, Path: "log", Err: err}))
		return config.EffectiveConfig{}, nil, exitCode(1)
	}
	return eff, log, nil
}

func (c *cli) deps(eff config.EffectiveConfig, log *zap.Logger) (run.Deps, func(), error) {
	deps, cleanup, err := c.newDeps(eff, log)
	if err != nil {
		c.emitReport(reportForConfigError(&config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigPath, Err: err}))
		return run.Deps{}, nil, exitCode(1)
	}
	return deps, cleanup, nil
}

func (c *cli) doRun(cmd *cobra.Command, f *flags, opts run.Options) error {
	eff, log, err := c.setup(cmd, f)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	deps, cleanup, err := c.deps(eff, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := c.pickProgressWriter()
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Close()
		obs = ui
	}

	rr := run.ExecuteWithObserver(ctx, eff, deps, opts, obs)
	c.emitReport(rr)
	if interactive {
		fmt.Fprintf(progressW, "result: %s\n", eff.OutputPath)
	}
	if rr.OK() {
		return nil
	}
	return exitCode(1)
}

func (c *cli) doCrawl(cmd *cobra.Command, f *flags) error {
	eff, log, err := c.setup(cmd, f)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	deps, cleanup, err := c.deps(eff, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := c.pickProgressWriter()
	var obs run.Observer
	if interactive {
		ui := newProgressUI(progressW)
		defer ui.Close()
		obs = ui
	}

	rep := run.Crawl(ctx, eff, deps, obs)
	failed := 0
	for _, m := range rep.Materials {
		if m.ErrorCode != "" {
			failed++
		}
	}
	c.emit(rep, rep.Diagnostics, fmt.Sprintf("完成：date=%s records=%d duplicates=%d materials=%d failed=%d",
		rep.Date, rep.Records, rep.Duplicates, len(rep.Materials), failed,
	))
	if rep.OK() {
		return nil
	}
	return exitCode(1)
}

// extractOutput 是 extract 子命令的 JSON 输出。
type extractOutput struct {
	Strategy    string              `json:"strategy"`
	Specs       []specView          `json:"specs"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

type specView struct {
	Line              int      `json:"line"`
	Strategy          string   `json:"strategy"`
	Mode              string   `json:"mode"`
	Material          string   `json:"material"`
	DeclaredThickness string   `json:"declared_thickness"`
	RealThickness     string   `json:"real_thickness,omitempty"`
	FilterThickness   string   `json:"filter_thickness"`
	LengthMM          int      `json:"length_mm"`
	WidthMM           int      `json:"width_mm"`
	SpecKey           string   `json:"spec_key"`
	Variants          []string `json:"variants"`
	Label             string   `json:"label"`
}

func newSpecView(s domain.Specification) specView {
	v := specView{
		Line:              s.Line,
		Strategy:          string(s.Source),
		Mode:              string(s.Mode()),
		Material:          s.Material,
		DeclaredThickness: s.DeclaredThickness.String(),
		FilterThickness:   s.FilterThickness().String(),
		LengthMM:          s.LengthMM,
		WidthMM:           s.WidthMM,
		SpecKey:           s.SpecKey(),
		Variants:          s.DimensionVariants(),
		Label:             s.Label(),
	}
	if s.RealThickness != nil {
		v.RealThickness = s.RealThickness.String()
	}
	return v
}

func (c *cli) doExtract(cmd *cobra.Command, f *flags, args []string) error {
	eff, log, err := c.setup(cmd, f)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var raw []byte
	switch {
	case len(args) == 1 && args[0] == "-":
		raw, err = io.ReadAll(cmd.InOrStdin())
	case len(args) == 1:
		raw, err = os.ReadFile(args[0])
	default:
		raw, err = os.ReadFile(eff.TextPath)
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "%s：读取文本失败：%v\n", domain.ErrCodeTextMissing, err)
		return exitCode(1)
	}

	res := spec.New(run.SpecOptions(eff), log).Extract(string(raw))
	out := extractOutput{
		Strategy:    string(res.Strategy),
		Specs:       make([]specView, 0, len(res.Specs)),
		Diagnostics: res.Diagnostics,
	}
	if out.Diagnostics == nil {
		out.Diagnostics = []domain.Diagnostic{}
	}
	for _, s := range res.Specs {
		out.Specs = append(out.Specs, newSpecView(s))
	}

	// extract 的用途就是看抽取结果：终端下也输出缩进 JSON。
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	fmt.Fprintf(c.stderr, "完成：strategy=%s specs=%d\n", orDash(out.Strategy), len(out.Specs))
	if len(out.Specs) == 0 {
		return exitCode(1)
	}
	return nil
}

func (c *cli) doWatch(cmd *cobra.Command, f *flags, mode run.CrawlMode) error {
	eff, log, err := c.setup(cmd, f)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	deps, cleanup, err := c.deps(eff, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if deps.Recognizer == nil {
		c.emitReport(reportForConfigError(&config.Error{
			Code: config.ErrCodeInvalid,
			Path: eff.ConfigPath,
			Err:  errors.New("watch 需要视觉模型：请配置 vision.api_key（或 PLATEMATCH_VISION_API_KEY）"),
		}))
		return exitCode(1)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := func(ctx context.Context, path string) error {
		if _, err := run.RecognizeToFile(ctx, deps.Recognizer, path, eff.TextPath); err != nil {
			return err
		}
		if !f.runAfter {
			return nil
		}
		rr := run.Execute(ctx, eff, deps, run.Options{Crawl: mode})
		c.emitReport(rr)
		return nil
	}

	w, err := watch.New(watch.Options{
		Dir:        eff.Vision.WatchDir,
		Extensions: eff.Vision.Extensions,
		Settle:     eff.Vision.Settle,
		Backfill:   f.backfill,
	}, handler, log.Named("watch"))
	if err != nil {
		fmt.Fprintf(c.stderr, "%s：%v\n", domain.ErrCodeConfigInvalid, err)
		return exitCode(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range w.Events() {
			if ev.Err != nil {
				fmt.Fprintf(c.stderr, "识别失败: %s: %s (%s)\n", ev.Path, truncate(ev.Err.Error(), 160), formatShortDuration(ev.Dur))
				continue
			}
			fmt.Fprintf(c.stderr, "识别完成: %s -> %s (%s)\n", ev.Path, eff.TextPath, formatShortDuration(ev.Dur))
		}
	}()

	fmt.Fprintf(c.stderr, "[%s] 监听 %s（Ctrl+C 退出）\n", time.Now().Format("15:04:05"), eff.Vision.WatchDir)
	err = w.Run(ctx)
	<-done
	if err != nil {
		fmt.Fprintf(c.stderr, "监听失败：%v\n", err)
		return exitCode(1)
	}
	return nil
}

func (c *cli) emitReport(rr domain.RunReport) {
	c.emit(rr, rr.Diagnostics, fmt.Sprintf("完成：specs=%d output=%d duplicates=%d fatal=%d",
		rr.Summary.Specs, rr.Summary.Output, rr.Summary.Duplicates, rr.Summary.Fatal,
	))
}

// emit 输出报告：
// - stdout 是终端：摘要写 stdout，warn/error 诊断写 stderr
// - stdout 非终端：stdout 必须且仅输出一个 JSON（摘要走 stderr）
func (c *cli) emit(report any, diags []domain.Diagnostic, summary string) {
	if isTTY(c.stdout) {
		fmt.Fprintln(c.stdout, summary)
		for _, d := range diags {
			if d.Level == domain.LevelInfo {
				continue
			}
			fmt.Fprintf(c.stderr, "%s %s: %s\n", d.Level, d.Code, d.Message)
		}
		return
	}

	enc := json.NewEncoder(c.stdout)
	_ = enc.Encode(report)
	fmt.Fprintln(c.stderr, summary)
}

func reportForConfigError(err error) domain.RunReport {
	code := config.Code(err)
	if code == "" {
		code = config.ErrCodeInvalid
	}
	now := time.Now().UTC()
	rr := domain.RunReport{
		StartedAt:  now,
		FinishedAt: now,
		Diagnostics: []domain.Diagnostic{{
			Level:   domain.LevelError,
			Code:    code,
			Message: err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func (c *cli) pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(c.stderr) {
		return c.stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(c.stdout) {
		return c.stdout, true
	}
	return nil, false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
