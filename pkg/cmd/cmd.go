package cmd

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"safelink/pkg/common"
	"safelink/pkg/config"
)

// Seed is a URL to extract and the class it is labelled with.
type Seed struct {
	URL   string
	Class int
}

// ReadURLsFromFile reads one URL per line. Blank lines, "#" comments,
// malformed URLs and duplicates are skipped.
func ReadURLsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()
	return readURLs(file)
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		normalized, err := common.NormalizeURL(line)
		if err != nil || seen[normalized] {
			continue
		}
		seen[normalized] = true
		urls = append(urls, normalized)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("file contained no valid URLs")
	}
	return urls, nil
}

// ReadPhishTankFile reads a PhishTank CSV export and keeps verified, online
// entries, labelled as phishing.
func ReadPhishTankFile(filePath string) ([]Seed, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()
	return readPhishTank(file)
}

func readPhishTank(r io.Reader) ([]Seed, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header row: %w", err)
	}
	colIndex := make(map[string]int)
	for i, colName := range header {
		colIndex[strings.TrimSpace(colName)] = i
	}
	for _, col := range []string{"url", "verified", "online"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("required column '%s' not found in CSV header", col)
		}
	}

	var seeds []Seed
	seen := make(map[string]bool)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV record: %w", err)
		}
		field := func(col string) string {
			if i := colIndex[col]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		if field("verified") != "yes" || field("online") != "yes" {
			continue
		}
		normalized, err := common.NormalizeURL(field("url"))
		if err != nil || seen[normalized] {
			continue
		}
		seen[normalized] = true
		seeds = append(seeds, Seed{URL: normalized, Class: config.ClassPhishing})
	}

	if len(seeds) == 0 {
		return nil, fmt.Errorf("file contained no valid (verified and online) phishing URLs")
	}
	return seeds, nil
}

// ParseClass maps a --label value to a dataset class.
func ParseClass(label string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "phishing", "phish", "-1":
		return config.ClassPhishing, nil
	case "legitimate", "legit", "1":
		return config.ClassLegitimate, nil
	}
	return 0, fmt.Errorf("unknown label %q (want phishing or legitimate)", label)
}
