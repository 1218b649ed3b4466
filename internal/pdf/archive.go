package pdf

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
)

const archiveFilename = "compressed.zip"

type archiveEntry struct {
	name string
	path string
}

// createZip は entries を順番どおりに格納します。PDF は圧縮済みなので無圧縮で格納します。
func createZip(outputPath string, entries []archiveEntry) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("zipファイルの作成に失敗しました: %w", err)
	}
	defer func() {
		err = multierr.Append(err, outFile.Close())
	}()

	zipWriter := zip.NewWriter(outFile)
	names := make(map[string]int, len(entries))
	for _, entry := range entries {
		if err := addZipEntry(zipWriter, uniqueEntryName(names, entry.name), entry.path); err != nil {
			return multierr.Append(err, zipWriter.Close())
		}
	}
	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("zipファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, name, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
	}
	header.Name = name
	header.Method = zip.Store

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
	}
	if _, err := io.Copy(writer, in); err != nil {
		return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
	}
	return nil
}

// uniqueEntryName は同名ファイルに " (1)" のような連番を付けます。
func uniqueEntryName(seen map[string]int, name string) string {
	count, ok := seen[name]
	seen[name] = count + 1
	if !ok {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for {
		candidate := fmt.Sprintf("%s (%d)%s", base, count, ext)
		if _, taken := seen[candidate]; !taken {
			seen[candidate] = 1
			return candidate
		}
		count++
	}
}
