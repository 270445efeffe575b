package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load reads a HuggingFace CLIP tokenizer from its vocab.json and merges.txt.
func Load(vocabPath, mergesPath string, opts ...Option) (*BPETokenizer, error) {
	vocab, err := loadVocab(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocab: %w", err)
	}
	merges, err := loadMerges(mergesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load merges: %w", err)
	}
	return New(vocab, merges, opts...)
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vocab := make(map[string]int)
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return vocab, nil
}

// loadMerges reads merge rules in priority order, skipping the #version header.
func loadMerges(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var merges []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(strings.Fields(line)) != 2 {
			return nil, fmt.Errorf("malformed merge rule %q", line)
		}
		merges = append(merges, line)
	}
	return merges, scanner.Err()
}
