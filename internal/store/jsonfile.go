package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// WriteJSON atomically replaces path with the indented JSON encoding of v.
func WriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := EnsureParentDir(path); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	return atomic.WriteFile(path, bytes.NewReader(b))
}

// ReadJSON decodes path into v. A missing or empty file leaves v untouched
// and reports found=false.
func ReadJSON(path string, v any) (bool, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(content, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}
