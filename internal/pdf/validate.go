package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

const (
	pdfMIME     = "application/pdf"
	sniffLength = 1024
)

var pdfMagic = []byte("%PDF")

// checkSignature は外部プロセスを起動する前にPDFとして扱えるかを確認します。
func checkSignature(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("入力ファイルを開けませんでした: %w", err)
	}
	defer file.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("入力ファイルの読み込みに失敗しました: %w", err)
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !bytes.HasPrefix(head, pdfMagic) || !detected.Is(pdfMIME) {
		return newError(CodeUnsupportedPDF, fmt.Sprintf("PDFファイルではありません (検出された形式: %s)", detected.String()), nil)
	}
	return nil
}

// detectContentType は成果物の Content-Type を判定します。
func detectContentType(path string) string {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return detected.String()
}
