package dirclient

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/lars-uploader/internal/domain/model"
)

// AssetSuffix — суффикс файла записи ресурса.
const AssetSuffix = ".asset.json"

// assetFilePath возвращает путь к файлу записи ресурса.
// Пример: "/repo", "a1b2" → "/repo/a1b2.asset.json"
func assetFilePath(root, id string) string {
	return filepath.Join(root, id+AssetSuffix)
}

// attachmentDir возвращает директорию вложений ресурса.
func attachmentDir(root, assetID string) string {
	return filepath.Join(root, assetID)
}

// writeAssetFile атомарно записывает запись ресурса.
// Паттерн: JSON → temp файл → fsync → atomic rename.
func writeAssetFile(path string, asset *model.Asset) error {
	data, err := json.MarshalIndent(asset, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации ресурса: %w", err)
	}
	return writeAtomic(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// readAssetFile читает запись ресурса.
func readAssetFile(path string) (*model.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var asset model.Asset
	if err := json.Unmarshal(data, &asset); err != nil {
		return nil, fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}
	return &asset, nil
}

// scanAssetFiles возвращает пути всех файлов записей в директории.
// Не рекурсивный: вложения лежат в поддиректориях и не сканируются.
func scanAssetFiles(root string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*"+AssetSuffix))
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", root, err)
	}
	return matches, nil
}

// idFromAssetFile возвращает ID ресурса по пути файла записи.
func idFromAssetFile(path string) string {
	return strings.TrimSuffix(filepath.Base(path), AssetSuffix)
}

// blobResult — результат сохранения содержимого вложения.
type blobResult struct {
	Size int64
	CRC  int64
}

// writeBlob сохраняет содержимое вложения с подсчётом CRC32 на лету.
// Паттерн: temp файл → запись + CRC32 → fsync → atomic rename.
func writeBlob(path string, content io.Reader) (*blobResult, error) {
	hasher := crc32.NewIEEE()
	var size int64

	err := writeAtomic(path, func(f *os.File) error {
		n, err := io.Copy(f, io.TeeReader(content, hasher))
		size = n
		return err
	})
	if err != nil {
		return nil, err
	}

	return &blobResult{Size: size, CRC: int64(hasher.Sum32())}, nil
}

// writeAtomic записывает файл через временный файл и rename.
// При ошибке временный файл удаляется.
func writeAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}
