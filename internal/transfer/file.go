package transfer

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	outputPrefix    = "received_"
	extractedSuffix = "_extracted"
	idLength        = 8
)

// NewTransferID returns a short random identifier for one outbound transfer.
func NewTransferID() string {
	return uuid.NewString()[:idLength]
}

func CalculateTotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// BuildOutputPath names the file a receive session writes to. The same id
// and name always map to the same path.
func BuildOutputPath(dir, transferID, filename string) string {
	return filepath.Join(dir, fmt.Sprintf("%s%s_%s", outputPrefix, transferID, filename))
}

// BuildExtractDir names the sibling directory an archive is unpacked into.
func BuildExtractDir(outputPath string) string {
	return outputPath + extractedSuffix
}
