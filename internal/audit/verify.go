package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult holds the outcome of a hash chain verification, with
// tallies of the security-relevant entry types found on the intact chain.
type VerifyResult struct {
	Valid bool `json:"valid"`
	Lines int  `json:"lines"`

	Violations  int `json:"violations"`
	Transitions int `json:"transitions"`
	Failures    int `json:"cycle_failures"`

	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify reads a JSONL audit log and validates that every entry's
// prev_hash matches the hash of the previous line, back to the genesis
// constant. Returns details about the first broken link, or entry-type
// tallies for an intact chain.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	var res VerifyResult
	var prevLine []byte
	lineNum := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNum++
		// Copy out: the scanner reuses its buffer.
		line := append([]byte(nil), scanner.Bytes()...)

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{
				Error:     fmt.Sprintf("parse error: %v", err),
				ErrorLine: lineNum,
			}
		}

		want := GenesisHash
		if lineNum > 1 {
			want = HashLine(prevLine)
		}
		if entry.PrevHash != want {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", want, entry.PrevHash),
				ErrorLine: lineNum,
			}
		}

		switch entry.Type {
		case TypeViolation:
			res.Violations++
		case TypeTransition:
			res.Transitions++
		case TypeCycleFailure:
			res.Failures++
		}
		prevLine = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	res.Lines = lineNum
	return res
}
