// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks the message catalogs against the Go sources: every
// i18n.T id must exist in the primary locale, every other locale must carry
// the same ids with the same format verbs, and ids nobody references are
// reported as orphans.
//
// Run from the repository root:
//
//	go run ./tools/i18n-linter
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const primaryLocale = "en.yaml"

var (
	reTCall   = regexp.MustCompile(`i18n\.T\("([^"]+)"`)
	reLiteral = regexp.MustCompile(`"([a-z]+\.[a-z_]+(?:\.[a-z_]+)*)"`)
	reVerb    = regexp.MustCompile(`%[-+# 0]*\d*(?:\.\d+)?[a-zA-Z]`)
)

// report collects everything the linter found.
type report struct {
	Undefined []string            // ids passed to i18n.T but missing from the primary locale
	Orphaned  []string            // primary ids never referenced from code
	Missing   map[string][]string // locale file -> primary ids it lacks
	Mismatch  map[string][]string // locale file -> ids whose format verbs differ
}

func (r report) failed() bool {
	return len(r.Undefined) > 0 || len(r.Missing) > 0 || len(r.Mismatch) > 0
}

func main() {
	root := flag.String("root", ".", "source tree to scan")
	locales := flag.String("locales", "internal/i18n/locales", "directory holding <lang>.yaml catalogs")
	flag.Parse()

	r, err := lint(*root, *locales)
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}
	printReport(r)
	if r.failed() {
		os.Exit(1)
	}
}

func lint(root, localesDir string) (report, error) {
	r := report{Missing: map[string][]string{}, Mismatch: map[string][]string{}}

	called, referenced, err := findUsedKeys(root)
	if err != nil {
		return r, fmt.Errorf("scan sources: %w", err)
	}
	primary, err := loadMessages(filepath.Join(localesDir, primaryLocale))
	if err != nil {
		return r, fmt.Errorf("load primary locale: %w", err)
	}

	for id := range called {
		if _, ok := primary[id]; !ok {
			r.Undefined = append(r.Undefined, id)
		}
	}
	for id := range primary {
		if _, ok := referenced[id]; !ok {
			r.Orphaned = append(r.Orphaned, id)
		}
	}
	sort.Strings(r.Undefined)
	sort.Strings(r.Orphaned)

	files, err := filepath.Glob(filepath.Join(localesDir, "*.yaml"))
	if err != nil {
		return r, err
	}
	for _, file := range files {
		if filepath.Base(file) == primaryLocale {
			continue
		}
		other, err := loadMessages(file)
		if err != nil {
			return r, fmt.Errorf("load %s: %w", file, err)
		}
		name := filepath.Base(file)
		for id, text := range primary {
			got, ok := other[id]
			if !ok {
				r.Missing[name] = append(r.Missing[name], id)
				continue
			}
			if !sameVerbs(text, got) {
				r.Mismatch[name] = append(r.Mismatch[name], id)
			}
		}
		sort.Strings(r.Missing[name])
		sort.Strings(r.Mismatch[name])
		if len(r.Missing[name]) == 0 {
			delete(r.Missing, name)
		}
		if len(r.Mismatch[name]) == 0 {
			delete(r.Mismatch, name)
		}
	}
	return r, nil
}

func printReport(r report) {
	section := func(title string, ids []string) {
		fmt.Printf("--- %s ---\n", title)
		if len(ids) == 0 {
			fmt.Println("  none")
		}
		for _, id := range ids {
			fmt.Printf("  - %s\n", id)
		}
	}
	section("Undefined ids (used in code, missing from "+primaryLocale+")", r.Undefined)
	section("Orphaned ids (defined but never referenced)", r.Orphaned)
	for _, name := range sortedKeys(r.Missing) {
		section("Missing from "+name, r.Missing[name])
	}
	for _, name := range sortedKeys(r.Mismatch) {
		section("Format verbs differ in "+name, r.Mismatch[name])
	}
	if r.failed() {
		fmt.Println("catalogs are inconsistent")
	} else {
		fmt.Println("catalogs are consistent")
	}
}

// findUsedKeys scans non-test .go files. called holds ids passed directly to
// i18n.T; referenced additionally holds id-shaped string literals, which
// covers ids chosen through a variable.
func findUsedKeys(root string) (called, referenced map[string]struct{}, err error) {
	called = map[string]struct{}{}
	referenced = map[string]struct{}{}
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "tools", "_examples", ".git":
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range reTCall.FindAllStringSubmatch(string(content), -1) {
			called[m[1]] = struct{}{}
			referenced[m[1]] = struct{}{}
		}
		for _, m := range reLiteral.FindAllStringSubmatch(string(content), -1) {
			referenced[m[1]] = struct{}{}
		}
		return nil
	})
	return called, referenced, err
}

// loadMessages reads a catalog into a flat id -> text map.
func loadMessages(path string) (map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(content, &data); err != nil {
		return nil, err
	}
	out := map[string]string{}
	flattenYAML("", data, out)
	return out, nil
}

// flattenYAML joins nested keys with dots.
func flattenYAML(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			next := k
			if prefix != "" {
				next = prefix + "." + k
			}
			flattenYAML(next, val, out)
		}
	case []any:
		for i, val := range v {
			flattenYAML(fmt.Sprintf("%s[%d]", prefix, i), val, out)
		}
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprint(v)
		}
	}
}

// sameVerbs reports whether a and b use the same printf verbs in order.
func sameVerbs(a, b string) bool {
	va, vb := reVerb.FindAllString(a, -1), reVerb.FindAllString(b, -1)
	if len(va) != len(vb) {
		return false
	}
	for i := range va {
		if va[i] != vb[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
