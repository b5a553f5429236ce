package generation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"reportd/internal/models"
	"reportd/internal/pkg/utils"
)

// artifactBase returns the extension-less path shared by the PDF and JSON
// files of one attempt: <dir>/<yyyy>/<yyyy>-<mm>/reporting_<yyyymmdd>_<name>_<uuid>.
func artifactBase(dir string, at time.Time, taskName string) string {
	at = at.UTC()
	name := fmt.Sprintf("reporting_%s_%s_%s", at.Format("20060102"), utils.NormalizeName(taskName), utils.GenerateUUID())
	return filepath.Join(dir, at.Format("2006"), at.Format("2006-01"), name)
}

func writeResult(path string, result *models.ReportResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
