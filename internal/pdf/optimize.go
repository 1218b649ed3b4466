package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/pdf-squeeze/internal/config"
	"github.com/yourusername/pdf-squeeze/internal/progress"
)

// Compressor は1ファイルを圧縮するエンジンです。入力は PDF の署名確認済みです。
type Compressor interface {
	Compress(ctx context.Context, inputPath, outputPath string, level progress.CompressionLevel) error
}

// NewEngine は設定に応じた圧縮エンジンを返します。
func NewEngine(cfg *config.Config) (Compressor, error) {
	switch strings.ToLower(cfg.CompressEngine) {
	case "", "ghostscript":
		return &GhostscriptEngine{Path: cfg.GhostscriptPath}, nil
	case "pdfcpu":
		return PDFCPUEngine{}, nil
	default:
		return nil, fmt.Errorf("unknown compress engine: %s", cfg.CompressEngine)
	}
}

// GhostscriptEngine は gs の pdfwrite デバイスで再出力します。
type GhostscriptEngine struct {
	Path string
}

// Compress は Ghostscript を実行します。ctx がキャンセルされるとプロセスも停止します。
func (g *GhostscriptEngine) Compress(ctx context.Context, inputPath, outputPath string, level progress.CompressionLevel) error {
	path := g.Path
	if path == "" {
		path = "gs"
	}
	cmd := exec.CommandContext(ctx, path, ghostscriptArgs(outputPath, inputPath, level)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(CodeCompressionFailed, fmt.Sprintf("Ghostscriptによる圧縮に失敗しました: %s", strings.TrimSpace(output.String())), err)
	}
	return nil
}

type ghostscriptPreset struct {
	setting    string
	resolution int
}

var ghostscriptPresets = map[progress.CompressionLevel]ghostscriptPreset{
	progress.LevelLow:    {setting: "/screen", resolution: 72},
	progress.LevelMedium: {setting: "/ebook", resolution: 150},
	progress.LevelHigh:   {setting: "/printer", resolution: 300},
}

func ghostscriptArgs(outputPath, inputPath string, level progress.CompressionLevel) []string {
	preset, ok := ghostscriptPresets[level]
	if !ok {
		preset = ghostscriptPresets[progress.LevelMedium]
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		fmt.Sprintf("-dPDFSETTINGS=%s", preset.setting),
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dColorImageResolution=%d", preset.resolution),
		fmt.Sprintf("-dGrayImageResolution=%d", preset.resolution),
		fmt.Sprintf("-dMonoImageResolution=%d", preset.resolution),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

// PDFCPUEngine は pdfcpu の最適化処理をプロセス内で実行します。
// 圧縮レベルによる違いはありません。
type PDFCPUEngine struct{}

// Compress は pdfcpu の OptimizeFile を呼び出します。
func (PDFCPUEngine) Compress(ctx context.Context, inputPath, outputPath string, _ progress.CompressionLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pdfapi.OptimizeFile(inputPath, outputPath, nil); err != nil {
		return newError(CodeCompressionFailed, fmt.Sprintf("PDFの最適化に失敗しました: %v", err), err)
	}
	return nil
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
