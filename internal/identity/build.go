package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tidwall/gjson"
)

// Conflict records a display name claimed by more than one source record.
// The first record wins.
type Conflict struct {
	Name     string
	Kept     string // group of the winning record
	Rejected string // group of the ignored record
}

// BuildResult is the outcome of [Build].
type BuildResult struct {
	Dataset   Dataset
	Conflicts []Conflict
	// Skipped counts records without a usable group.
	Skipped int
}

// Build turns per-entity source records into an identity dataset.
//
// Each source is a JSON document holding either one record or an array of
// records. A record carries "gender", "group_name", "defaults.group_description",
// "defaults.description" and "levels[].display_names[]". Every display name of
// every level maps to the record's gender, group and description. The group is
// defaults.group_description, or group_name when that is empty; records with
// neither are skipped.
//
// Duplicate names across records are data-quality problems, not errors: the
// first record wins and the conflict is logged and reported.
func Build(sources ...[]byte) (BuildResult, error) {
	res := BuildResult{Dataset: make(Dataset)}
	for i, src := range sources {
		if !gjson.ValidBytes(src) {
			return BuildResult{}, fmt.Errorf("identity: build: source %d is not valid JSON", i)
		}
		doc := gjson.ParseBytes(src)
		if doc.IsArray() {
			doc.ForEach(func(_, rec gjson.Result) bool {
				addRecord(&res, rec)
				return true
			})
			continue
		}
		addRecord(&res, doc)
	}
	return res, nil
}

func addRecord(res *BuildResult, rec gjson.Result) {
	group := rec.Get("defaults.group_description").String()
	if group == "" {
		group = rec.Get("group_name").String()
	}
	names := rec.Get("levels.#.display_names|@flatten")
	if group == "" {
		res.Skipped++
		slog.Warn("identity: record without group skipped", "names", names.Raw)
		return
	}

	var gender *string
	switch g := rec.Get("gender").String(); g {
	case GenderMale, GenderFemale:
		gender = &g
	}
	entry := Entry{
		Gender:      gender,
		GroupName:   group,
		Description: rec.Get("defaults.description").String(),
	}

	own := make(map[string]bool)
	names.ForEach(func(_, n gjson.Result) bool {
		name := n.String()
		if name == "" || own[name] {
			return true
		}
		own[name] = true
		if prev, dup := res.Dataset[name]; dup {
			res.Conflicts = append(res.Conflicts, Conflict{Name: name, Kept: prev.GroupName, Rejected: group})
			slog.Warn("identity: duplicate display name, keeping first", "name", name, "kept", prev.GroupName, "rejected", group)
			return true
		}
		res.Dataset[name] = entry
		return true
	})
}

// BuildFiles reads every path and passes the contents to [Build].
func BuildFiles(paths ...string) (BuildResult, error) {
	sources := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return BuildResult{}, fmt.Errorf("identity: build: %w", err)
		}
		sources = append(sources, data)
	}
	return Build(sources...)
}

// Write encodes ds as indented JSON. Keys are sorted so rebuilt datasets diff
// cleanly.
func (ds Dataset) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		return fmt.Errorf("identity: write dataset: %w", err)
	}
	return nil
}
