package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
)

// loadFile decodes a JSON or YAML file into v, chosen by extension.
func loadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	default:
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return eris.Wrapf(err, "decode %s", path)
	}
	return nil
}

// callBatchFile is the object form of a dispatch input file.
type callBatchFile struct {
	Requests      []model.CallRequest `json:"requests" yaml:"requests"`
	MaxConcurrent int                 `json:"max_concurrent" yaml:"max_concurrent"`
}

// loadCallRequests reads either a bare list of call requests or an object
// with a requests key.
func loadCallRequests(path string) ([]model.CallRequest, int, error) {
	var list []model.CallRequest
	if err := loadFile(path, &list); err == nil {
		return list, 0, nil
	}
	var batch callBatchFile
	if err := loadFile(path, &batch); err != nil {
		return nil, 0, err
	}
	return batch.Requests, batch.MaxConcurrent, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
